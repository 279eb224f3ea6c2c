// Package client drives the player's journey: login, the lobby, a game and
// back. It owns the session, the lobby coordinator and at most one game
// engine, and publishes every state change to a broadcast hub.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tictacgrid/internal/broadcast"
	"tictacgrid/internal/game"
	"tictacgrid/internal/matchmaking"
	"tictacgrid/internal/models"
	"tictacgrid/internal/poll"
	"tictacgrid/internal/session"
)

var (
	ErrNotInLobby = errors.New("not in the lobby")
	ErrNotInGame  = errors.New("not in a game")
	ErrLoggedIn   = errors.New("already logged in")
)

// Hub topics
const (
	TopicLobby  = "lobby"
	TopicGame   = "game"
	TopicServer = "server"
)

// Screen is the part of the journey the player is in
type Screen string

const (
	ScreenLogin Screen = "login"
	ScreenLobby Screen = "lobby"
	ScreenGame  Screen = "game"
)

// Remote is every server call the client makes
type Remote interface {
	session.Authenticator
	matchmaking.Remote
	game.Remote
	CheckAvailability(ctx context.Context) error
}

// Config tunes an App
type Config struct {
	Interval time.Duration
	Logger   *log.Logger
	Hub      *broadcast.Hub
}

// Status is published on TopicServer
type Status struct {
	Screen   Screen `json:"screen"`
	Username string `json:"username,omitempty"`
	Online   bool   `json:"online"`
}

// App sequences the lobby and game components. Transitions are serialized;
// at most one of the lobby timer and the game pollers runs at a time.
type App struct {
	remote   Remote
	session  *session.Session
	hub      *broadcast.Hub
	logger   *log.Logger
	interval time.Duration

	mu     sync.Mutex
	screen Screen
	lobby  *matchmaking.Coordinator
	engine *game.Engine

	online atomic.Bool
	watch  atomic.Pointer[poll.Task]
}

// New creates a logged-out App
func New(remote Remote, cfg Config) *App {
	if cfg.Interval <= 0 {
		cfg.Interval = matchmaking.DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Hub == nil {
		cfg.Hub = broadcast.NewHub()
	}
	return &App{
		remote:   remote,
		session:  session.New(remote),
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		screen:   ScreenLogin,
	}
}

// Login authenticates and enters the lobby
func (a *App) Login(ctx context.Context, username, password string) error {
	return a.authenticate(ctx, username, password, a.session.Login)
}

// Register creates an account and enters the lobby
func (a *App) Register(ctx context.Context, username, password string) error {
	return a.authenticate(ctx, username, password, a.session.Register)
}

func (a *App) authenticate(ctx context.Context, username, password string,
	fn func(context.Context, string, string) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenLogin {
		return ErrLoggedIn
	}
	if err := fn(ctx, username, password); err != nil {
		return err
	}
	a.logger.Printf("SESSION: logged in as %s", username)
	return a.enterLobbyLocked(ctx)
}

// EnterLobby announces the user and starts the lobby refresh. If the
// announcement fails the user is logged out.
func (a *App) EnterLobby(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enterLobbyLocked(ctx)
}

func (a *App) enterLobbyLocked(ctx context.Context) error {
	if a.session.Token() == "" {
		return session.ErrNotLoggedIn
	}
	if a.lobby == nil {
		a.lobby = matchmaking.New(a.remote, a.session, matchmaking.Config{
			Interval: a.interval,
			Logger:   a.logger,
			OnChange: func(s matchmaking.Snapshot) { a.hub.Broadcast(TopicLobby, s) },
		})
	}
	if a.lobby.Active() {
		a.screen = ScreenLobby
		return nil
	}
	if err := a.lobby.Start(ctx); err != nil {
		a.logoutLocked(ctx)
		return fmt.Errorf("entering lobby: %w", err)
	}
	a.screen = ScreenLobby
	a.publishStatusLocked()
	return nil
}

// Accept accepts a received invitation and opens its game
func (a *App) Accept(ctx context.Context, invitationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenLobby {
		return ErrNotInLobby
	}
	gameID, err := a.lobby.Accept(ctx, invitationID)
	if err != nil {
		return err
	}
	return a.openGameLocked(ctx, gameID)
}

// Play opens the game of an accepted sent invitation
func (a *App) Play(ctx context.Context, invitationID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenLobby {
		return ErrNotInLobby
	}
	gameID, err := a.lobby.Play(invitationID)
	if err != nil {
		return err
	}
	return a.openGameLocked(ctx, gameID)
}

// Resume opens an ongoing game by id
func (a *App) Resume(ctx context.Context, gameID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenLobby {
		return ErrNotInLobby
	}
	return a.openGameLocked(ctx, gameID)
}

// openGameLocked loads the game first and only then stops the lobby, so a
// failed load leaves the player in a working lobby.
func (a *App) openGameLocked(ctx context.Context, gameID string) error {
	engine := game.NewEngine(a.remote, a.session, game.Config{
		Interval: a.interval,
		Logger:   a.logger,
		OnChange: func(v game.View) { a.hub.Broadcast(TopicGame, v) },
	})
	if err := engine.Open(ctx, gameID); err != nil {
		engine.Close()
		return fmt.Errorf("opening game %s: %w", gameID, err)
	}
	a.lobby.Stop(ctx)
	a.engine = engine
	a.screen = ScreenGame
	a.publishStatusLocked()
	return nil
}

// Move plays the cell given in row-letter column-number form, e.g. "b3"
func (a *App) Move(ctx context.Context, cell string) error {
	row, col, err := models.DecodeCell(cell)
	if err != nil {
		return err
	}
	return a.Click(ctx, row, col)
}

// Click plays (row, col)
func (a *App) Click(ctx context.Context, row, col int) error {
	engine, err := a.activeEngine()
	if err != nil {
		return err
	}
	return engine.HandleClick(ctx, row, col)
}

// PlayAgain requests a rematch of the finished game
func (a *App) PlayAgain(ctx context.Context) error {
	engine, err := a.activeEngine()
	if err != nil {
		return err
	}
	return engine.RequestPlayAgain(ctx)
}

func (a *App) activeEngine() (*game.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenGame || a.engine == nil {
		return nil, ErrNotInGame
	}
	return a.engine, nil
}

// MainMenu leaves the game and returns to the lobby
func (a *App) MainMenu(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenGame {
		return ErrNotInGame
	}
	a.engine.GoToMainMenu(ctx)
	a.engine = nil
	return a.enterLobbyLocked(ctx)
}

// Logout tears down the lobby and any game and forgets the identity
func (a *App) Logout(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logoutLocked(ctx)
}

func (a *App) logoutLocked(ctx context.Context) {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.lobby != nil {
		a.lobby.Stop(ctx)
		a.lobby = nil
	}
	if a.session.Username() != "" {
		a.logger.Printf("SESSION: %s logged out", a.session.Username())
	}
	a.session.Logout()
	a.screen = ScreenLogin
	a.publishStatusLocked()
}

// Invite sends an invitation from the lobby
func (a *App) Invite(ctx context.Context, req models.InvitationRequest) (models.Invitation, error) {
	lobby, err := a.activeLobby()
	if err != nil {
		return models.Invitation{}, err
	}
	return lobby.Invite(ctx, req)
}

// Decline declines a received invitation
func (a *App) Decline(ctx context.Context, invitationID string) error {
	lobby, err := a.activeLobby()
	if err != nil {
		return err
	}
	return lobby.Decline(ctx, invitationID)
}

// Cancel withdraws a sent invitation
func (a *App) Cancel(ctx context.Context, invitationID string) error {
	lobby, err := a.activeLobby()
	if err != nil {
		return err
	}
	return lobby.Cancel(ctx, invitationID)
}

// CheckInvitation polls the status of one sent invitation
func (a *App) CheckInvitation(ctx context.Context, invitationID string) error {
	lobby, err := a.activeLobby()
	if err != nil {
		return err
	}
	return lobby.RefreshInvitation(ctx, invitationID)
}

// Refresh reloads every lobby collection now
func (a *App) Refresh(ctx context.Context) error {
	lobby, err := a.activeLobby()
	if err != nil {
		return err
	}
	lobby.Refresh(ctx)
	return nil
}

func (a *App) activeLobby() (*matchmaking.Coordinator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screen != ScreenLobby || a.lobby == nil {
		return nil, ErrNotInLobby
	}
	return a.lobby, nil
}

// CheckServer asks the server whether it is up and records the answer
func (a *App) CheckServer(ctx context.Context) error {
	err := a.remote.CheckAvailability(ctx)
	if ctx.Err() != nil {
		return err
	}
	if a.online.Swap(err == nil) != (err == nil) {
		if err != nil {
			a.logger.Printf("SERVER: unavailable: %v", err)
		} else {
			a.logger.Printf("SERVER: available")
		}
		a.mu.Lock()
		a.publishStatusLocked()
		a.mu.Unlock()
	}
	return err
}

// WatchServer checks availability now and then on every interval until
// Close. Calling it again restarts the watch.
func (a *App) WatchServer(ctx context.Context) {
	a.CheckServer(ctx)
	task := poll.Start(ctx, a.interval, func(ctx context.Context) { a.CheckServer(ctx) })
	if old := a.watch.Swap(task); old != nil {
		old.Stop()
		old.Wait()
	}
}

// Close stops the availability watch and logs out
func (a *App) Close(ctx context.Context) {
	if task := a.watch.Swap(nil); task != nil {
		task.Stop()
		task.Wait()
	}
	a.Logout(ctx)
}

// Screen returns the current screen
func (a *App) Screen() Screen {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screen
}

// Username returns the logged-in user, or ""
func (a *App) Username() string {
	return a.session.Username()
}

// Online reports the last known server availability
func (a *App) Online() bool {
	return a.online.Load()
}

// Lobby returns the lobby collections. They survive a game, so the lobby
// shows its last state until the next refresh.
func (a *App) Lobby() matchmaking.Snapshot {
	a.mu.Lock()
	lobby := a.lobby
	a.mu.Unlock()
	if lobby == nil {
		return matchmaking.Snapshot{}
	}
	return lobby.Snapshot()
}

// Game returns the game view; its phase is idle outside a game
func (a *App) Game() game.View {
	a.mu.Lock()
	engine := a.engine
	a.mu.Unlock()
	if engine == nil {
		return game.View{Phase: game.PhaseIdle}
	}
	return engine.View()
}

// Hub returns the hub state changes are published to
func (a *App) Hub() *broadcast.Hub {
	return a.hub
}

func (a *App) publishStatusLocked() {
	a.hub.Broadcast(TopicServer, Status{
		Screen:   a.screen,
		Username: a.session.Username(),
		Online:   a.online.Load(),
	})
}
