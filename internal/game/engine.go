package game

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"tictacgrid/internal/models"
	"tictacgrid/internal/poll"
)

var (
	ErrInvalidMove    = errors.New("invalid move")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrGameOver       = errors.New("game is over")
	ErrPositionTaken  = errors.New("position already taken")
	ErrNoGame         = errors.New("no active game")
	ErrGameInProgress = errors.New("game is still in progress")
	ErrClosed         = errors.New("game session closed")
	ErrNotLoggedIn    = errors.New("not logged in")
	ErrMalformedGame  = errors.New("server returned a game without a board")
)

// DefaultInterval is the move and rematch polling period
const DefaultInterval = 2 * time.Second

// Phase is the lifecycle stage of the engine
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseOngoing  Phase = "ongoing"
	PhaseTerminal Phase = "terminal"
	PhaseClosed   Phase = "closed"
)

// Remote is the subset of server calls the engine uses
type Remote interface {
	MakeMove(ctx context.Context, token, gameID, cell string) (models.State, error)
	PollGame(ctx context.Context, token, gameID string) (models.MovePoll, error)
	FullGame(ctx context.Context, token, gameID string) (*models.Game, error)
	PlayAgain(ctx context.Context, token, gameID string, again bool) (models.PlayAgain, error)
	PollPlayAgain(ctx context.Context, token, gameID string) (models.PlayAgain, error)
}

// Credential gives read access to the bearer token
type Credential interface {
	Token() string
}

// Config tunes an Engine
type Config struct {
	Interval time.Duration
	Logger   *log.Logger
	// OnChange receives a view after every visible change
	OnChange func(View)
}

// View is a copy of the engine state
type View struct {
	Phase     Phase            `json:"phase"`
	Game      *models.Game     `json:"game,omitempty"`
	PlayAgain models.PlayAgain `json:"playAgain"`
}

// Status summarizes the view in one line
func (v View) Status() string {
	if v.Game == nil {
		return string(v.Phase)
	}
	if v.Game.State == models.StateOngoing {
		return v.Game.TurnHint()
	}
	status := v.Game.Outcome()
	if p := v.PlayAgain.Describe(v.Game.Token, v.Game.Opponent); p != "" {
		status += " - " + p
	}
	return status
}

// Engine owns one game session: the board, the turn, move submission and
// the pollers that reconcile it with the server. Only one poller runs at a
// time: the move poller while waiting for the opponent, the rematch poller
// once the game has ended.
type Engine struct {
	remote   Remote
	cred     Credential
	interval time.Duration
	logger   *log.Logger
	onChange func(View)

	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	phase     Phase
	game      *models.Game
	playAgain models.PlayAgain
	// gen changes whenever the session is replaced or closed; results of
	// calls issued under an older gen are dropped
	gen uint64

	movePoll    *poll.Task
	rematchPoll *poll.Task
	started     []*poll.Task
}

// NewEngine creates an idle engine
func NewEngine(remote Remote, cred Credential, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		remote:   remote,
		cred:     cred,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		base:     base,
		cancel:   cancel,
		phase:    PhaseIdle,
	}
}

func (e *Engine) token() (string, error) {
	token := e.cred.Token()
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// Open fetches the full state of gameID and starts the session
func (e *Engine) Open(ctx context.Context, gameID string) error {
	token, err := e.token()
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.phase == PhaseClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.game == nil {
		e.phase = PhaseLoading
	}
	gen := e.gen
	e.mu.Unlock()

	g, err := e.remote.FullGame(ctx, token, gameID)
	if err != nil {
		e.mu.Lock()
		if e.phase == PhaseLoading {
			e.phase = PhaseIdle
		}
		e.mu.Unlock()
		e.logger.Printf("GAME: load %s failed: %v", gameID, err)
		return err
	}
	return e.install(gen, g)
}

// install replaces the session with g unless the session changed since gen
// was read
func (e *Engine) install(gen uint64, g *models.Game) error {
	if g == nil || g.Grid.Size() == 0 {
		return ErrMalformedGame
	}

	e.mu.Lock()
	if e.phase == PhaseClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.gen != gen {
		e.mu.Unlock()
		return nil
	}
	e.movePoll.Stop()
	e.rematchPoll.Stop()
	e.movePoll, e.rematchPoll = nil, nil

	e.game = g.Clone()
	e.playAgain = models.PlayAgain{}
	e.gen++
	e.phase = phaseOf(e.game)
	e.scheduleLocked()
	view := e.viewLocked()
	e.mu.Unlock()

	e.logger.Printf("GAME: %s vs %s as %s (%s)", g.ID, g.Opponent, g.Token, g.State)
	e.notify(view)
	return nil
}

// HandleClick plays (row, col) for the local player. Clicks on occupied
// cells, out of turn or after the game ended return one of ErrInvalidMove,
// ErrPositionTaken, ErrNotYourTurn or ErrGameOver and change nothing; a UI
// may ignore them.
//
// A valid click marks the cell and passes the turn before the move is sent.
// If sending fails the mark stays and the error is returned; the next
// successful poll corrects the game state.
func (e *Engine) HandleClick(ctx context.Context, row, col int) error {
	token, err := e.token()
	if err != nil {
		return err
	}

	e.mu.Lock()
	g := e.game
	switch {
	case g == nil:
		e.mu.Unlock()
		return ErrNoGame
	case !g.Grid.InBounds(row, col):
		e.mu.Unlock()
		return ErrInvalidMove
	case g.Grid[row][col] != models.Empty:
		e.mu.Unlock()
		return ErrPositionTaken
	case e.phase != PhaseOngoing:
		e.mu.Unlock()
		return ErrGameOver
	case !g.IsYourTurn:
		e.mu.Unlock()
		return ErrNotYourTurn
	}

	g.Grid[row][col] = g.Token
	g.IsYourTurn = false
	gen, gameID := e.gen, g.ID
	cell := models.EncodeCell(row, col)
	view := e.viewLocked()
	e.mu.Unlock()
	e.notify(view)

	state, err := e.remote.MakeMove(ctx, token, gameID, cell)

	e.mu.Lock()
	if e.gen != gen || e.game == nil {
		e.mu.Unlock()
		return err
	}
	if err == nil && state.Valid() {
		e.game.State = state
		e.phase = phaseOf(e.game)
	}
	e.scheduleLocked()
	view = e.viewLocked()
	e.mu.Unlock()

	if err != nil {
		e.logger.Printf("GAME: move %s in %s failed: %v", cell, gameID, err)
		return err
	}
	e.logger.Printf("GAME: played %s in %s, state %s", cell, gameID, state)
	e.notify(view)
	return nil
}

// pollMove asks for the opponent's latest move and reconciles it
func (e *Engine) pollMove(ctx context.Context, gen uint64) {
	token := e.cred.Token()
	if token == "" {
		return
	}
	e.mu.Lock()
	if e.gen != gen || e.game == nil {
		e.mu.Unlock()
		return
	}
	gameID := e.game.ID
	e.mu.Unlock()

	res, err := e.remote.PollGame(ctx, token, gameID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Printf("GAME: poll %s failed: %v", gameID, err)
		}
		return
	}

	e.mu.Lock()
	if ctx.Err() != nil || e.gen != gen || e.game == nil || e.phase != PhaseOngoing || e.game.IsYourTurn {
		e.mu.Unlock()
		return
	}
	changed := e.reconcileLocked(res)
	e.scheduleLocked()
	view := e.viewLocked()
	e.mu.Unlock()

	if changed {
		e.notify(view)
	}
}

// reconcileLocked applies a poll result. A cell is only ever written while
// empty; with no new move only the state is refreshed.
func (e *Engine) reconcileLocked(res models.MovePoll) bool {
	g := e.game
	changed := false
	if res.NewMove && res.Cell != "" {
		row, col, err := models.DecodeCellIn(res.Cell, g.Grid.Size())
		switch {
		case err != nil:
			e.logger.Printf("GAME: ignoring move %q in %s: %v", res.Cell, g.ID, err)
		case g.Grid[row][col] != models.Empty:
			e.logger.Printf("GAME: ignoring move %q in %s: cell taken", res.Cell, g.ID)
		default:
			g.Grid[row][col] = g.Token.Opponent()
			g.IsYourTurn = true
			changed = true
		}
	}
	if res.State.Valid() && res.State != g.State {
		g.State = res.State
		changed = true
	}
	e.phase = phaseOf(g)
	return changed
}

// RequestPlayAgain asks the server for a rematch. If the opponent already
// agreed, the new game replaces this one.
func (e *Engine) RequestPlayAgain(ctx context.Context) error {
	token, err := e.token()
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.game == nil {
		e.mu.Unlock()
		return ErrNoGame
	}
	if e.phase != PhaseTerminal {
		e.mu.Unlock()
		return ErrGameInProgress
	}
	gen, gameID := e.gen, e.game.ID
	e.mu.Unlock()

	p, err := e.remote.PlayAgain(ctx, token, gameID, true)
	if err != nil {
		e.logger.Printf("GAME: play again %s failed: %v", gameID, err)
		return err
	}
	return e.applyPlayAgain(ctx, token, gen, p)
}

// pollRematch refreshes the rematch negotiation of a finished game
func (e *Engine) pollRematch(ctx context.Context, gen uint64) {
	token := e.cred.Token()
	if token == "" {
		return
	}
	e.mu.Lock()
	if e.gen != gen || e.game == nil {
		e.mu.Unlock()
		return
	}
	gameID := e.game.ID
	e.mu.Unlock()

	p, err := e.remote.PollPlayAgain(ctx, token, gameID)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Printf("GAME: rematch poll %s failed: %v", gameID, err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := e.applyPlayAgain(ctx, token, gen, p); err != nil && ctx.Err() == nil {
		e.logger.Printf("GAME: rematch %s: %v", gameID, err)
	}
}

func (e *Engine) applyPlayAgain(ctx context.Context, token string, gen uint64, p models.PlayAgain) error {
	e.mu.Lock()
	if e.gen != gen || e.game == nil {
		e.mu.Unlock()
		return nil
	}
	changed := e.playAgain != p
	e.playAgain = p
	view := e.viewLocked()
	e.mu.Unlock()

	if changed {
		e.notify(view)
	}
	if p.NextGameID == "" {
		return nil
	}

	g, err := e.remote.FullGame(ctx, token, p.NextGameID)
	if err != nil {
		return err
	}
	return e.install(gen, g)
}

// GoToMainMenu declines further play on a finished game and closes the
// session. The session is closed even if the decline cannot be sent.
func (e *Engine) GoToMainMenu(ctx context.Context) {
	e.mu.Lock()
	var gameID string
	if e.game != nil && e.phase == PhaseTerminal {
		gameID = e.game.ID
	}
	e.mu.Unlock()

	if token := e.cred.Token(); gameID != "" && token != "" {
		if _, err := e.remote.PlayAgain(ctx, token, gameID, false); err != nil {
			e.logger.Printf("GAME: decline play again %s failed: %v", gameID, err)
		}
	}
	e.Close()
}

// Close stops every poller and discards the session. It waits for in-flight
// poll callbacks to return.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.phase == PhaseClosed {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseClosed
	e.game = nil
	e.playAgain = models.PlayAgain{}
	e.gen++
	e.movePoll, e.rematchPoll = nil, nil
	tasks := e.started
	e.started = nil
	e.cancel()
	view := e.viewLocked()
	e.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
		t.Wait()
	}
	e.logger.Printf("GAME: session closed")
	e.notify(view)
}

// View returns a copy of the current state
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// GameID returns the id of the active game, or ""
func (e *Engine) GameID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.game == nil {
		return ""
	}
	return e.game.ID
}

// Polling reports which pollers are running
func (e *Engine) Polling() (move, rematch bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.movePoll.Stopped(), !e.rematchPoll.Stopped()
}

// scheduleLocked starts the poller the current phase needs and stops the
// other one
func (e *Engine) scheduleLocked() {
	wantMove := e.game != nil && e.phase == PhaseOngoing && !e.game.IsYourTurn
	wantRematch := e.game != nil && e.phase == PhaseTerminal

	if wantMove {
		if e.movePoll.Stopped() {
			e.movePoll = e.startLocked(e.pollMove)
		}
	} else if e.movePoll != nil {
		e.movePoll.Stop()
		e.movePoll = nil
	}

	if wantRematch {
		if e.rematchPoll.Stopped() {
			e.rematchPoll = e.startLocked(e.pollRematch)
		}
	} else if e.rematchPoll != nil {
		e.rematchPoll.Stop()
		e.rematchPoll = nil
	}
}

func (e *Engine) startLocked(fn func(context.Context, uint64)) *poll.Task {
	gen := e.gen
	t := poll.Start(e.base, e.interval, func(ctx context.Context) { fn(ctx, gen) })

	live := e.started[:0]
	for _, s := range e.started {
		select {
		case <-s.Done():
		default:
			live = append(live, s)
		}
	}
	e.started = append(live, t)
	return t
}

func (e *Engine) viewLocked() View {
	return View{Phase: e.phase, Game: e.game.Clone(), PlayAgain: e.playAgain}
}

func (e *Engine) notify(v View) {
	if e.onChange != nil {
		e.onChange(v)
	}
}

func phaseOf(g *models.Game) Phase {
	if g.State.Terminal() {
		return PhaseTerminal
	}
	return PhaseOngoing
}
