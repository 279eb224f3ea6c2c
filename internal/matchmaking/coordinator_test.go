package matchmaking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tictacgrid/internal/models"
)

var errOffline = errors.New("offline")

type staticCred struct{ token, user string }

func (c staticCred) Token() string    { return c.token }
func (c staticCred) Username() string { return c.user }

type fakeRemote struct {
	mu sync.Mutex

	waiting  []models.WaitingUser
	sent     []models.Invitation
	received []models.Invitation
	games    []models.GameSummary

	// sentGate, when set, blocks SentInvitations until it is closed
	sentGate chan struct{}
	sentSeen chan struct{}
	// receivedGate does the same for ReceivedInvitations
	receivedGate chan struct{}
	receivedSeen chan struct{}

	fail        map[string]error
	calls       map[string]int
	nextID      string
	acceptGame  string
	statusReply models.InvitationStatus
	statusGame  string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{fail: map[string]error{}, calls: map[string]int{}, nextID: "inv-new", acceptGame: "game-1"}
}

func (f *fakeRemote) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.fail[name]
}

func (f *fakeRemote) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeRemote) setFail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = err
}

func (f *fakeRemote) StartWaiting(ctx context.Context, token string) error {
	return f.hit("start")
}

func (f *fakeRemote) StopWaiting(ctx context.Context, token string) error {
	return f.hit("stop")
}

func (f *fakeRemote) WaitingUsers(ctx context.Context, token string) ([]models.WaitingUser, error) {
	if err := f.hit("waiting"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WaitingUser(nil), f.waiting...), nil
}

func (f *fakeRemote) SendInvitation(ctx context.Context, token string, req models.InvitationRequest) (string, error) {
	if err := f.hit("invite"); err != nil {
		return "", err
	}
	return f.nextID, nil
}

func (f *fakeRemote) SentInvitations(ctx context.Context, token string) ([]models.Invitation, error) {
	if err := f.hit("sent"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	list := append([]models.Invitation(nil), f.sent...)
	gate, seen := f.sentGate, f.sentSeen
	f.mu.Unlock()
	if gate != nil {
		close(seen)
		<-gate
	}
	return list, nil
}

func (f *fakeRemote) ReceivedInvitations(ctx context.Context, token string) ([]models.Invitation, error) {
	if err := f.hit("received"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	list := append([]models.Invitation(nil), f.received...)
	gate, seen := f.receivedGate, f.receivedSeen
	f.mu.Unlock()
	if gate != nil {
		close(seen)
		<-gate
	}
	return list, nil
}

// holdSent makes the next SentInvitations call block after reading its
// list. It returns once the call is in flight, with the func that lets it
// finish.
func (f *fakeRemote) holdSent(t *testing.T, refresh func() error) (release func() error) {
	t.Helper()
	f.mu.Lock()
	f.sentGate, f.sentSeen = make(chan struct{}), make(chan struct{})
	gate, seen := f.sentGate, f.sentSeen
	f.mu.Unlock()
	return hold(gate, seen, refresh)
}

// holdReceived is holdSent for ReceivedInvitations
func (f *fakeRemote) holdReceived(t *testing.T, refresh func() error) (release func() error) {
	t.Helper()
	f.mu.Lock()
	f.receivedGate, f.receivedSeen = make(chan struct{}), make(chan struct{})
	gate, seen := f.receivedGate, f.receivedSeen
	f.mu.Unlock()
	return hold(gate, seen, refresh)
}

func hold(gate, seen chan struct{}, refresh func() error) func() error {
	done := make(chan error, 1)
	go func() { done <- refresh() }()
	<-seen
	return func() error {
		close(gate)
		return <-done
	}
}

func (f *fakeRemote) RespondInvitation(ctx context.Context, token, invitationID string, accept bool) (string, error) {
	name := "decline"
	if accept {
		name = "accept"
	}
	if err := f.hit(name); err != nil {
		return "", err
	}
	if accept {
		return f.acceptGame, nil
	}
	return "", nil
}

func (f *fakeRemote) CancelInvitation(ctx context.Context, token, invitationID string) error {
	return f.hit("cancel")
}

func (f *fakeRemote) InvitationStatus(ctx context.Context, token, invitationID string) (models.InvitationStatus, string, error) {
	if err := f.hit("status"); err != nil {
		return "", "", err
	}
	return f.statusReply, f.statusGame, nil
}

func (f *fakeRemote) OngoingGames(ctx context.Context, token string) ([]models.GameSummary, error) {
	if err := f.hit("games"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GameSummary(nil), f.games...), nil
}

func newTestCoordinator(remote *fakeRemote) *Coordinator {
	return New(remote, staticCred{token: "tok", user: "alice"}, Config{Interval: time.Hour})
}

func pending(id, invited string) models.Invitation {
	return models.Invitation{ID: id, Inviter: "alice", Invited: invited, GridSize: 3, WinningLine: 3, Status: models.InvitationPending}
}

func TestInviteRejectsOutOfBoundsGridBeforeRequest(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(remote)

	_, err := c.Invite(context.Background(), models.InvitationRequest{Invited: "bob", GridSize: 20, WinningLine: 3})
	if !errors.Is(err, models.ErrGridSize) {
		t.Fatalf("err = %v, want ErrGridSize", err)
	}
	if remote.count("invite") != 0 {
		t.Fatalf("invite request sent for invalid grid")
	}
}

func TestInviteAppendsImmediately(t *testing.T) {
	remote := newFakeRemote()
	var got []Snapshot
	c := New(remote, staticCred{token: "tok", user: "alice"}, Config{
		Interval: time.Hour,
		OnChange: func(s Snapshot) { got = append(got, s) },
	})

	inv, err := c.Invite(context.Background(), models.InvitationRequest{Invited: "bob", GridSize: 5, WinningLine: 4, InviterPlayingX: true})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.ID != "inv-new" || inv.Inviter != "alice" || inv.Status != models.InvitationPending || inv.Mode != models.ModeSame {
		t.Fatalf("invitation = %+v", inv)
	}
	sent := c.Snapshot().Sent
	if len(sent) != 1 || sent[0].ID != "inv-new" {
		t.Fatalf("sent = %+v", sent)
	}
	if len(got) != 1 {
		t.Fatalf("OnChange called %d times, want 1", len(got))
	}
}

func TestInviteFailureLeavesSentUnchanged(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail("invite", errOffline)
	c := newTestCoordinator(remote)

	if _, err := c.Invite(context.Background(), models.InvitationRequest{Invited: "bob", GridSize: 3, WinningLine: 3}); !errors.Is(err, errOffline) {
		t.Fatalf("err = %v", err)
	}
	if len(c.Snapshot().Sent) != 0 {
		t.Fatalf("failed invite was recorded")
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	remote := newFakeRemote()
	remote.sent = []models.Invitation{pending("1", "bob"), pending("2", "carol")}
	remote.waiting = []models.WaitingUser{{Username: "bob"}}
	c := newTestCoordinator(remote)

	c.Refresh(context.Background())
	if len(c.Snapshot().Sent) != 2 || len(c.Snapshot().Waiting) != 1 {
		t.Fatalf("snapshot = %+v", c.Snapshot())
	}

	remote.mu.Lock()
	remote.sent = []models.Invitation{pending("2", "carol")}
	remote.waiting = nil
	remote.mu.Unlock()

	c.Refresh(context.Background())
	snap := c.Snapshot()
	if len(snap.Sent) != 1 || snap.Sent[0].ID != "2" || len(snap.Waiting) != 0 {
		t.Fatalf("snapshot after second refresh = %+v", snap)
	}
}

func TestFailedRefreshKeepsPreviousList(t *testing.T) {
	remote := newFakeRemote()
	remote.waiting = []models.WaitingUser{{Username: "bob"}}
	c := newTestCoordinator(remote)
	c.Refresh(context.Background())

	remote.setFail("waiting", errOffline)
	if err := c.RefreshWaitingUsers(context.Background()); !errors.Is(err, errOffline) {
		t.Fatalf("err = %v", err)
	}
	if w := c.Snapshot().Waiting; len(w) != 1 || w[0].Username != "bob" {
		t.Fatalf("waiting = %+v", w)
	}
}

func TestStaleRefreshDoesNotRevertCancel(t *testing.T) {
	remote := newFakeRemote()
	remote.sent = []models.Invitation{pending("1", "bob"), pending("2", "carol")}
	c := newTestCoordinator(remote)
	if err := c.RefreshSentInvitations(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// a refresh is issued and answered with the old list while the cancel lands
	release := remote.holdSent(t, func() error { return c.RefreshSentInvitations(context.Background()) })
	if err := c.Cancel(context.Background(), "1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("stale refresh: %v", err)
	}

	sent := c.Snapshot().Sent
	if len(sent) != 1 || sent[0].ID != "2" {
		t.Fatalf("cancelled invitation reappeared: %+v", sent)
	}

	// a refresh issued after the cancel is applied as is
	remote.mu.Lock()
	remote.sentGate = nil
	remote.mu.Unlock()
	if err := c.RefreshSentInvitations(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(c.Snapshot().Sent) != 2 {
		t.Fatalf("fresh refresh not applied: %+v", c.Snapshot().Sent)
	}
}

func TestStaleRefreshDoesNotDropInvite(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(remote)

	// the server answers with the list from before the invitation existed
	release := remote.holdSent(t, func() error { return c.RefreshSentInvitations(context.Background()) })
	if _, err := c.Invite(context.Background(), models.InvitationRequest{Invited: "bob", GridSize: 3, WinningLine: 3}); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("stale refresh: %v", err)
	}

	sent := c.Snapshot().Sent
	if len(sent) != 1 || sent[0].ID != "inv-new" {
		t.Fatalf("sent after stale refresh = %+v", sent)
	}
}

func TestStaleRefreshDoesNotRevertAcceptOrDecline(t *testing.T) {
	for _, accept := range []bool{true, false} {
		remote := newFakeRemote()
		remote.received = []models.Invitation{
			{ID: "r1", Inviter: "bob", Invited: "alice", GridSize: 3, WinningLine: 3, Status: models.InvitationPending},
			{ID: "r2", Inviter: "carol", Invited: "alice", GridSize: 3, WinningLine: 3, Status: models.InvitationPending},
		}
		c := newTestCoordinator(remote)
		if err := c.RefreshReceivedInvitations(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		release := remote.holdReceived(t, func() error { return c.RefreshReceivedInvitations(context.Background()) })
		var err error
		if accept {
			_, err = c.Accept(context.Background(), "r1")
		} else {
			err = c.Decline(context.Background(), "r1")
		}
		if err != nil {
			t.Fatalf("accept=%v: %v", accept, err)
		}
		if err := release(); err != nil {
			t.Fatalf("stale refresh: %v", err)
		}

		received := c.Snapshot().Received
		if len(received) != 1 || received[0].ID != "r2" {
			t.Fatalf("accept=%v: received after stale refresh = %+v", accept, received)
		}

		remote.mu.Lock()
		remote.receivedGate = nil
		remote.mu.Unlock()
		if err := c.RefreshReceivedInvitations(context.Background()); err != nil {
			t.Fatalf("refresh: %v", err)
		}
		if len(c.Snapshot().Received) != 2 {
			t.Fatalf("accept=%v: fresh refresh not applied: %+v", accept, c.Snapshot().Received)
		}
	}
}

func TestAcceptRemovesReceivedAndReturnsGame(t *testing.T) {
	remote := newFakeRemote()
	remote.received = []models.Invitation{
		{ID: "r1", Inviter: "bob", GridSize: 3, WinningLine: 3, Status: models.InvitationPending},
		{ID: "r2", Inviter: "carol", GridSize: 3, WinningLine: 3, Status: models.InvitationPending},
	}
	c := newTestCoordinator(remote)
	c.Refresh(context.Background())

	gameID, err := c.Accept(context.Background(), "r1")
	if err != nil || gameID != "game-1" {
		t.Fatalf("accept = %q, %v", gameID, err)
	}
	recv := c.Snapshot().Received
	if len(recv) != 1 || recv[0].ID != "r2" {
		t.Fatalf("received = %+v", recv)
	}
	if _, ok := c.Received("r1"); ok {
		t.Fatalf("accepted invitation still listed")
	}
}

func TestFailedWritesLeaveCollectionsUnchanged(t *testing.T) {
	remote := newFakeRemote()
	remote.received = []models.Invitation{{ID: "r1", Inviter: "bob", Status: models.InvitationPending}}
	remote.sent = []models.Invitation{pending("s1", "carol")}
	c := newTestCoordinator(remote)
	c.Refresh(context.Background())

	remote.setFail("accept", errOffline)
	remote.setFail("decline", errOffline)
	remote.setFail("cancel", errOffline)

	if _, err := c.Accept(context.Background(), "r1"); !errors.Is(err, errOffline) {
		t.Fatalf("accept err = %v", err)
	}
	if err := c.Decline(context.Background(), "r1"); !errors.Is(err, errOffline) {
		t.Fatalf("decline err = %v", err)
	}
	if err := c.Cancel(context.Background(), "s1"); !errors.Is(err, errOffline) {
		t.Fatalf("cancel err = %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Received) != 1 || len(snap.Sent) != 1 {
		t.Fatalf("snapshot changed after failures: %+v", snap)
	}
}

func TestDeclineRemovesLocally(t *testing.T) {
	remote := newFakeRemote()
	remote.received = []models.Invitation{{ID: "r1", Inviter: "bob", Status: models.InvitationPending}}
	c := newTestCoordinator(remote)
	c.Refresh(context.Background())

	if err := c.Decline(context.Background(), "r1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if len(c.Snapshot().Received) != 0 {
		t.Fatalf("declined invitation still listed")
	}
	if remote.count("received") != 1 {
		t.Fatalf("decline re-queried the server")
	}
}

func TestAcceptedSentIsPlayableNotCancellable(t *testing.T) {
	remote := newFakeRemote()
	accepted := pending("s1", "bob")
	accepted.Status = models.InvitationAccepted
	accepted.GameID = "g9"
	declined := pending("s3", "dave")
	declined.Status = models.InvitationDeclined
	declined.GameID = "bogus"
	remote.sent = []models.Invitation{accepted, pending("s2", "carol"), declined}
	c := newTestCoordinator(remote)
	c.Refresh(context.Background())

	snap := c.Snapshot()
	for _, inv := range snap.PendingSent() {
		if inv.ID == "s1" {
			t.Fatalf("accepted invitation offered for cancellation")
		}
	}
	playable := snap.AcceptedSent()
	if len(playable) != 1 || playable[0].ID != "s1" {
		t.Fatalf("playable = %+v", playable)
	}
	for _, inv := range snap.Sent {
		if (inv.GameID != "") != (inv.Status == models.InvitationAccepted) {
			t.Fatalf("game id / status mismatch: %+v", inv)
		}
	}

	gameID, err := c.Play("s1")
	if err != nil || gameID != "g9" {
		t.Fatalf("play = %q, %v", gameID, err)
	}
	if _, err := c.Play("s2"); !errors.Is(err, ErrNotPlayable) {
		t.Fatalf("play pending err = %v", err)
	}
	if _, err := c.Play("nope"); !errors.Is(err, ErrUnknownInvitation) {
		t.Fatalf("play unknown err = %v", err)
	}
}

func TestRefreshInvitationNeverReturnsToPending(t *testing.T) {
	remote := newFakeRemote()
	c := newTestCoordinator(remote)
	remote.statusReply = models.InvitationAccepted
	remote.statusGame = "g1"
	if _, err := c.Invite(context.Background(), models.InvitationRequest{Invited: "bob", GridSize: 3, WinningLine: 3}); err != nil {
		t.Fatalf("invite: %v", err)
	}

	if err := c.RefreshInvitation(context.Background(), "inv-new"); err != nil {
		t.Fatalf("refresh invitation: %v", err)
	}
	if inv := c.Snapshot().Sent[0]; inv.Status != models.InvitationAccepted || inv.GameID != "g1" {
		t.Fatalf("invitation = %+v", inv)
	}

	remote.statusReply = models.InvitationPending
	remote.statusGame = ""
	if err := c.RefreshInvitation(context.Background(), "inv-new"); err != nil {
		t.Fatalf("refresh invitation: %v", err)
	}
	if inv := c.Snapshot().Sent[0]; inv.Status != models.InvitationAccepted {
		t.Fatalf("status regressed to %q", inv.Status)
	}
}

func TestStartFailureDoesNotStartTimer(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail("start", errOffline)
	c := newTestCoordinator(remote)

	if err := c.Start(context.Background()); !errors.Is(err, errOffline) {
		t.Fatalf("err = %v", err)
	}
	if c.Active() {
		t.Fatalf("coordinator active after failed start")
	}
	if remote.count("waiting") != 0 {
		t.Fatalf("refreshed after failed start")
	}
}

func TestStopTearsDownEvenIfStopWaitingFails(t *testing.T) {
	remote := newFakeRemote()
	remote.setFail("stop", errOffline)
	c := New(remote, staticCred{token: "tok", user: "alice"}, Config{Interval: 5 * time.Millisecond})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second start err = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for remote.count("waiting") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("periodic refresh did not run")
		}
		time.Sleep(time.Millisecond)
	}

	c.Stop(context.Background())
	if c.Active() {
		t.Fatalf("coordinator still active")
	}
	if remote.count("stop") != 1 {
		t.Fatalf("stop waiting called %d times", remote.count("stop"))
	}
	after := remote.count("waiting")
	time.Sleep(30 * time.Millisecond)
	if remote.count("waiting") != after {
		t.Fatalf("refresh kept running after Stop")
	}

	c.Stop(context.Background())
	if remote.count("stop") != 1 {
		t.Fatalf("second Stop notified the server again")
	}
}

func TestLoggedOutCallsFail(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, staticCred{}, Config{})

	if err := c.Start(context.Background()); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("start err = %v", err)
	}
	if _, err := c.Accept(context.Background(), "x"); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("accept err = %v", err)
	}
	if remote.count("start") != 0 || remote.count("accept") != 0 {
		t.Fatalf("remote called without credential")
	}
}
