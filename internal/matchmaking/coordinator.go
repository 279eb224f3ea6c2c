// Package matchmaking keeps the lobby view of the logged-in user: who is
// waiting to be challenged, the invitations sent and received, and the
// user's ongoing games.
//
// Collections are replaced wholesale by periodic refreshes. The user's own
// invite/accept/decline/cancel actions are applied locally right away, and a
// per-collection write clock makes sure a refresh that was issued before such
// an action can never revert it.
package matchmaking

import (
	"context"
	"errors"
	"io"
	"log"
	"slices"
	"sync"
	"time"

	"tictacgrid/internal/models"
	"tictacgrid/internal/poll"
)

var (
	ErrNotLoggedIn         = errors.New("not logged in")
	ErrUnknownInvitation   = errors.New("unknown invitation")
	ErrNotPlayable         = errors.New("invitation has no game yet")
	ErrAlreadyActive       = errors.New("coordinator already active")
	ErrMissingInvitationID = errors.New("server returned no invitation id")
	ErrMissingGameID       = errors.New("server returned no game id")
)

// DefaultInterval is the lobby refresh period
const DefaultInterval = 2 * time.Second

// Remote is the subset of server calls the coordinator uses
type Remote interface {
	StartWaiting(ctx context.Context, token string) error
	StopWaiting(ctx context.Context, token string) error
	WaitingUsers(ctx context.Context, token string) ([]models.WaitingUser, error)
	SendInvitation(ctx context.Context, token string, req models.InvitationRequest) (string, error)
	SentInvitations(ctx context.Context, token string) ([]models.Invitation, error)
	ReceivedInvitations(ctx context.Context, token string) ([]models.Invitation, error)
	RespondInvitation(ctx context.Context, token, invitationID string, accept bool) (string, error)
	CancelInvitation(ctx context.Context, token, invitationID string) error
	InvitationStatus(ctx context.Context, token, invitationID string) (models.InvitationStatus, string, error)
	OngoingGames(ctx context.Context, token string) ([]models.GameSummary, error)
}

// Credential gives read access to the logged-in identity
type Credential interface {
	Token() string
	Username() string
}

// Config tunes a Coordinator
type Config struct {
	Interval time.Duration
	Logger   *log.Logger
	// OnChange receives a snapshot after every change of a collection
	OnChange func(Snapshot)
}

// Snapshot is a copy of the coordinator's collections
type Snapshot struct {
	Waiting  []models.WaitingUser `json:"waiting"`
	Sent     []models.Invitation  `json:"sent"`
	Received []models.Invitation  `json:"received"`
	Games    []models.GameSummary `json:"games"`
}

// PendingSent lists sent invitations that can still be cancelled
func (s Snapshot) PendingSent() []models.Invitation {
	var out []models.Invitation
	for _, inv := range s.Sent {
		if inv.Cancellable() {
			out = append(out, inv)
		}
	}
	return out
}

// AcceptedSent lists sent invitations whose game can be joined
func (s Snapshot) AcceptedSent() []models.Invitation {
	var out []models.Invitation
	for _, inv := range s.Sent {
		if inv.Playable() {
			out = append(out, inv)
		}
	}
	return out
}

// Coordinator is the lobby state machine
type Coordinator struct {
	remote   Remote
	cred     Credential
	interval time.Duration
	logger   *log.Logger
	onChange func(Snapshot)

	mu       sync.Mutex
	waiting  []models.WaitingUser
	sent     []models.Invitation
	received []models.Invitation
	games    []models.GameSummary

	// write clocks, bumped by every local mutation of the collection
	sentClock     uint64
	receivedClock uint64

	task *poll.Task
}

// New creates an inactive coordinator
func New(remote Remote, cred Credential, cfg Config) *Coordinator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Coordinator{
		remote:   remote,
		cred:     cred,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
	}
}

func (c *Coordinator) token() (string, error) {
	token := c.cred.Token()
	if token == "" {
		return "", ErrNotLoggedIn
	}
	return token, nil
}

// Start announces the user as waiting, refreshes every collection once and
// starts the periodic refresh. A failed announcement is returned without
// starting the timer.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.task != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.mu.Unlock()

	token, err := c.token()
	if err != nil {
		return err
	}
	if err := c.remote.StartWaiting(ctx, token); err != nil {
		c.logger.Printf("LOBBY: start waiting failed: %v", err)
		return err
	}

	c.Refresh(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return ErrAlreadyActive
	}
	c.task = poll.Start(context.Background(), c.interval, c.Refresh)
	c.logger.Printf("LOBBY: polling every %s", c.interval)
	return nil
}

// Stop ends the periodic refresh and withdraws the user from the waiting
// list. The timer is torn down even if the withdrawal fails.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	task := c.task
	c.task = nil
	c.mu.Unlock()

	if task == nil {
		return
	}
	task.Stop()
	task.Wait()

	if token := c.cred.Token(); token != "" {
		if err := c.remote.StopWaiting(ctx, token); err != nil {
			c.logger.Printf("LOBBY: stop waiting failed: %v", err)
		}
	}
	c.logger.Printf("LOBBY: stopped")
}

// Active reports whether the periodic refresh is running
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// Refresh runs every collection refresh in parallel. Failures leave the
// affected collection as it was.
func (c *Coordinator) Refresh(ctx context.Context) {
	var wg sync.WaitGroup
	for _, fn := range []func(context.Context) error{
		c.RefreshWaitingUsers,
		c.RefreshReceivedInvitations,
		c.RefreshSentInvitations,
		c.RefreshGames,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Printf("LOBBY: refresh failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

// RefreshWaitingUsers replaces the waiting user list
func (c *Coordinator) RefreshWaitingUsers(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	users, err := c.remote.WaitingUsers(ctx, token)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	c.waiting = slices.Clone(users)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// RefreshSentInvitations replaces the sent collection, unless a local
// write happened while the request was in flight
func (c *Coordinator) RefreshSentInvitations(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	c.mu.Lock()
	issued := c.sentClock
	c.mu.Unlock()

	invitations, err := c.remote.SentInvitations(ctx, token)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	if c.sentClock != issued {
		c.mu.Unlock()
		c.logger.Printf("LOBBY: dropped stale sent invitations refresh")
		return nil
	}
	c.sent = normalized(invitations)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// RefreshReceivedInvitations replaces the received collection, unless a
// local write happened while the request was in flight
func (c *Coordinator) RefreshReceivedInvitations(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	c.mu.Lock()
	issued := c.receivedClock
	c.mu.Unlock()

	invitations, err := c.remote.ReceivedInvitations(ctx, token)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	if c.receivedClock != issued {
		c.mu.Unlock()
		c.logger.Printf("LOBBY: dropped stale received invitations refresh")
		return nil
	}
	c.received = normalized(invitations)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// RefreshGames replaces the ongoing games list
func (c *Coordinator) RefreshGames(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	games, err := c.remote.OngoingGames(ctx, token)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	c.games = slices.Clone(games)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// RefreshInvitation polls the status of one sent invitation and updates it
// in place. A status never moves back to pending.
func (c *Coordinator) RefreshInvitation(ctx context.Context, invitationID string) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	status, gameID, err := c.remote.InvitationStatus(ctx, token, invitationID)
	if err != nil {
		return err
	}
	if !status.Valid() {
		return nil
	}

	c.mu.Lock()
	i := indexOf(c.sent, invitationID)
	if i < 0 {
		c.mu.Unlock()
		return ErrUnknownInvitation
	}
	inv := c.sent[i]
	if inv.Status != models.InvitationPending && status == models.InvitationPending {
		c.mu.Unlock()
		return nil
	}
	inv.Status = status
	inv.GameID = gameID
	c.sent = slices.Clone(c.sent)
	c.sent[i] = inv.Normalize()
	c.sentClock++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Invite validates and sends an invitation. On success the invitation is
// appended to the sent collection without waiting for the next refresh.
func (c *Coordinator) Invite(ctx context.Context, req models.InvitationRequest) (models.Invitation, error) {
	if err := req.Validate(); err != nil {
		return models.Invitation{}, err
	}
	req = req.WithDefaults()

	token, err := c.token()
	if err != nil {
		return models.Invitation{}, err
	}
	id, err := c.remote.SendInvitation(ctx, token, req)
	if err != nil {
		c.logger.Printf("LOBBY: invite %s failed: %v", req.Invited, err)
		return models.Invitation{}, err
	}
	if id == "" {
		return models.Invitation{}, ErrMissingInvitationID
	}

	inv := models.Invitation{
		ID:              id,
		Inviter:         c.cred.Username(),
		Invited:         req.Invited,
		GridSize:        req.GridSize,
		WinningLine:     req.WinningLine,
		InviterPlayingX: req.InviterPlayingX,
		Mode:            req.Mode,
		Status:          models.InvitationPending,
	}

	c.mu.Lock()
	if indexOf(c.sent, id) < 0 {
		c.sent = append(slices.Clone(c.sent), inv)
	}
	c.sentClock++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.logger.Printf("LOBBY: invited %s (%s)", req.Invited, id)
	return inv, nil
}

// Accept accepts a received invitation and returns the id of the created
// game. The invitation leaves the received collection.
func (c *Coordinator) Accept(ctx context.Context, invitationID string) (string, error) {
	token, err := c.token()
	if err != nil {
		return "", err
	}
	gameID, err := c.remote.RespondInvitation(ctx, token, invitationID, true)
	if err != nil {
		c.logger.Printf("LOBBY: accept %s failed: %v", invitationID, err)
		return "", err
	}
	if gameID == "" {
		return "", ErrMissingGameID
	}
	c.removeReceived(invitationID)
	c.logger.Printf("LOBBY: accepted %s, game %s", invitationID, gameID)
	return gameID, nil
}

// Decline declines a received invitation and drops it locally
func (c *Coordinator) Decline(ctx context.Context, invitationID string) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	if _, err := c.remote.RespondInvitation(ctx, token, invitationID, false); err != nil {
		c.logger.Printf("LOBBY: decline %s failed: %v", invitationID, err)
		return err
	}
	c.removeReceived(invitationID)
	return nil
}

// Cancel withdraws a sent invitation and drops it locally
func (c *Coordinator) Cancel(ctx context.Context, invitationID string) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	if err := c.remote.CancelInvitation(ctx, token, invitationID); err != nil {
		c.logger.Printf("LOBBY: cancel %s failed: %v", invitationID, err)
		return err
	}

	c.mu.Lock()
	c.sent = without(c.sent, invitationID)
	c.sentClock++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Play returns the game id of an accepted sent invitation
func (c *Coordinator) Play(invitationID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.sent, invitationID)
	if i < 0 {
		return "", ErrUnknownInvitation
	}
	if !c.sent[i].Playable() {
		return "", ErrNotPlayable
	}
	return c.sent[i].GameID, nil
}

// Received looks up a received invitation by id
func (c *Coordinator) Received(invitationID string) (models.Invitation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.received, invitationID)
	if i < 0 {
		return models.Invitation{}, false
	}
	return c.received[i], true
}

// Snapshot returns a copy of every collection
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) removeReceived(invitationID string) {
	c.mu.Lock()
	c.received = without(c.received, invitationID)
	c.receivedClock++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Waiting:  slices.Clone(c.waiting),
		Sent:     slices.Clone(c.sent),
		Received: slices.Clone(c.received),
		Games:    slices.Clone(c.games),
	}
}

func (c *Coordinator) notify(snap Snapshot) {
	if c.onChange != nil {
		c.onChange(snap)
	}
}

func indexOf(list []models.Invitation, id string) int {
	return slices.IndexFunc(list, func(inv models.Invitation) bool { return inv.ID == id })
}

func without(list []models.Invitation, id string) []models.Invitation {
	return slices.DeleteFunc(slices.Clone(list), func(inv models.Invitation) bool { return inv.ID == id })
}

func normalized(list []models.Invitation) []models.Invitation {
	out := make([]models.Invitation, len(list))
	for i, inv := range list {
		out[i] = inv.Normalize()
	}
	return out
}
