package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"tictacgrid/internal/models"
)

type gridProperties struct {
	Size        int `json:"size,omitempty"`
	WinningLine int `json:"winning_line"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type invitationRecord struct {
	InvitationID    string         `json:"invitation_id"`
	Inviter         string         `json:"inviter"`
	Invited         string         `json:"invited"`
	InviterPlayingX bool           `json:"inviter_playing_x"`
	GridProperties  gridProperties `json:"grid_properties"`
	Status          string         `json:"status"`
	GameID          string         `json:"game_id"`
	Mode            string         `json:"play_again_scheme"`
}

func (r invitationRecord) toModel(defaultStatus models.InvitationStatus) models.Invitation {
	status := models.InvitationStatus(r.Status)
	if status == "" {
		status = defaultStatus
	}
	return models.Invitation{
		ID:              r.InvitationID,
		Inviter:         r.Inviter,
		Invited:         r.Invited,
		GridSize:        r.GridProperties.Size,
		WinningLine:     r.GridProperties.WinningLine,
		InviterPlayingX: r.InviterPlayingX,
		Mode:            models.Mode(r.Mode),
		Status:          status,
		GameID:          r.GameID,
	}.Normalize()
}

type fullGameResponse struct {
	Opponent       string         `json:"opponent"`
	GridState      [][]string     `json:"grid_state"`
	GridProperties gridProperties `json:"grid_properties"`
	YouPlayingX    bool           `json:"you_playing_x"`
	Status         string         `json:"status"`
	YourTurn       bool           `json:"your_turn"`
	Mode           string         `json:"play_again_scheme"`
}

func markOf(you bool) models.Mark {
	if you {
		return models.MarkX
	}
	return models.MarkO
}

// bearer sends an authenticated call
func (c *Client) bearer(ctx context.Context, method, path, token string, query url.Values, body, out any) error {
	return c.do(ctx, call{method: method, path: path, token: token, query: query, body: body}, out)
}

// CheckAvailability reports whether the server is reachable
func (c *Client) CheckAvailability(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodGet, path: "/check_availability"}, nil)
}

// CreateUser registers an account and returns its bearer token
func (c *Client) CreateUser(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/create_user", basic: &[2]string{username, password}}, &out)
	return out.Token, err
}

// Login authenticates and returns a bearer token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out tokenResponse
	err := c.do(ctx, call{method: http.MethodPost, path: "/login", basic: &[2]string{username, password}}, &out)
	return out.Token, err
}

// StartWaiting marks the user as available for matchmaking
func (c *Client) StartWaiting(ctx context.Context, token string) error {
	return c.bearer(ctx, http.MethodPost, "/start_waiting", token, nil, nil, nil)
}

// StopWaiting withdraws the user from matchmaking
func (c *Client) StopWaiting(ctx context.Context, token string) error {
	return c.bearer(ctx, http.MethodPost, "/stop_waiting", token, nil, nil, nil)
}

// WaitingUsers lists the users available to be challenged
func (c *Client) WaitingUsers(ctx context.Context, token string) ([]models.WaitingUser, error) {
	var out struct {
		WaitingUsers []string `json:"waiting_users"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/waiting_users", token, nil, nil, &out); err != nil {
		return nil, err
	}
	users := make([]models.WaitingUser, 0, len(out.WaitingUsers))
	for _, name := range out.WaitingUsers {
		users = append(users, models.WaitingUser{Username: name})
	}
	return users, nil
}

// SendInvitation sends an invitation and returns its server-assigned id
func (c *Client) SendInvitation(ctx context.Context, token string, req models.InvitationRequest) (string, error) {
	body := struct {
		Invited         string         `json:"invited"`
		GridProperties  gridProperties `json:"grid_properties"`
		InviterPlayingX bool           `json:"inviter_playing_x"`
		Mode            models.Mode    `json:"play_again_scheme"`
	}{
		Invited:         req.Invited,
		GridProperties:  gridProperties{Size: req.GridSize, WinningLine: req.WinningLine},
		InviterPlayingX: req.InviterPlayingX,
		Mode:            req.Mode,
	}
	var out struct {
		InvitationID string `json:"invitation_id"`
	}
	err := c.bearer(ctx, http.MethodPost, "/invite", token, nil, body, &out)
	return out.InvitationID, err
}

// SentInvitations lists invitations sent by the user
func (c *Client) SentInvitations(ctx context.Context, token string) ([]models.Invitation, error) {
	var out struct {
		SentInvitations []invitationRecord `json:"sent_invitations"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/get_sent_invitations", token, nil, nil, &out); err != nil {
		return nil, err
	}
	invitations := make([]models.Invitation, 0, len(out.SentInvitations))
	for _, r := range out.SentInvitations {
		invitations = append(invitations, r.toModel(models.InvitationPending))
	}
	return invitations, nil
}

// ReceivedInvitations lists pending invitations addressed to the user
func (c *Client) ReceivedInvitations(ctx context.Context, token string) ([]models.Invitation, error) {
	var out struct {
		Invitations []invitationRecord `json:"invitations"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/poll_invitations", token, nil, nil, &out); err != nil {
		return nil, err
	}
	invitations := make([]models.Invitation, 0, len(out.Invitations))
	for _, r := range out.Invitations {
		invitations = append(invitations, r.toModel(models.InvitationPending))
	}
	return invitations, nil
}

// RespondInvitation accepts or declines an invitation. The game id is set
// when accepting.
func (c *Client) RespondInvitation(ctx context.Context, token, invitationID string, accept bool) (string, error) {
	response := "decline"
	if accept {
		response = "accept"
	}
	body := map[string]string{"invitation_id": invitationID, "response": response}
	var out struct {
		GameID string `json:"game_id"`
	}
	err := c.bearer(ctx, http.MethodPost, "/respond_invitation", token, nil, body, &out)
	return out.GameID, err
}

// CancelInvitation withdraws a sent invitation
func (c *Client) CancelInvitation(ctx context.Context, token, invitationID string) error {
	q := url.Values{"invitation_id": {invitationID}}
	return c.bearer(ctx, http.MethodPost, "/cancel_invitation", token, q, nil, nil)
}

// InvitationStatus polls one sent invitation
func (c *Client) InvitationStatus(ctx context.Context, token, invitationID string) (models.InvitationStatus, string, error) {
	q := url.Values{"invitation_id": {invitationID}}
	var out struct {
		Status string `json:"status"`
		GameID string `json:"game_id"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/poll_invitation_status", token, q, nil, &out); err != nil {
		return "", "", err
	}
	return models.InvitationStatus(out.Status), out.GameID, nil
}

// MakeMove submits a move and returns the resulting game state
func (c *Client) MakeMove(ctx context.Context, token, gameID, cell string) (models.State, error) {
	body := map[string]string{"game_id": gameID, "cell": cell}
	var out struct {
		GameState string `json:"game_state"`
	}
	err := c.bearer(ctx, http.MethodPost, "/make_move", token, nil, body, &out)
	return models.State(out.GameState), err
}

// PollGame asks whether the opponent has moved
func (c *Client) PollGame(ctx context.Context, token, gameID string) (models.MovePoll, error) {
	q := url.Values{"game_id": {gameID}}
	var out struct {
		NewMove   bool   `json:"new_move"`
		GameState string `json:"game_state"`
		Cell      string `json:"cell"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/poll_game", token, q, nil, &out); err != nil {
		return models.MovePoll{}, err
	}
	return models.MovePoll{NewMove: out.NewMove, State: models.State(out.GameState), Cell: out.Cell}, nil
}

// FullGame fetches the complete state of a game
func (c *Client) FullGame(ctx context.Context, token, gameID string) (*models.Game, error) {
	q := url.Values{"game_id": {gameID}}
	var out fullGameResponse
	if err := c.bearer(ctx, http.MethodGet, "/get_full_game_state", token, q, nil, &out); err != nil {
		return nil, err
	}
	grid := models.NewGrid(len(out.GridState))
	for r, row := range out.GridState {
		for col, v := range row {
			if col < len(grid[r]) {
				grid[r][col] = models.Mark(strings.ToLower(v))
			}
		}
	}
	return &models.Game{
		ID:          gameID,
		Opponent:    out.Opponent,
		Grid:        grid,
		WinningLine: out.GridProperties.WinningLine,
		Token:       markOf(out.YouPlayingX),
		IsYourTurn:  out.YourTurn,
		State:       models.State(out.Status),
		Mode:        models.Mode(out.Mode),
	}, nil
}

type playAgainResponse struct {
	Status          string `json:"status"`
	NewGameID       string `json:"new_game_id"`
	PlayAgainStatus string `json:"play_again_status"`
	NextGameID      string `json:"next_game_id"`
}

func (r playAgainResponse) toModel() models.PlayAgain {
	p := models.PlayAgain{Status: models.PlayAgainStatus(r.Status), NextGameID: r.NewGameID}
	if p.Status == "" {
		p.Status = models.PlayAgainStatus(r.PlayAgainStatus)
	}
	if p.NextGameID == "" {
		p.NextGameID = r.NextGameID
	}
	return p
}

// PlayAgain records the user's rematch intent
func (c *Client) PlayAgain(ctx context.Context, token, gameID string, again bool) (models.PlayAgain, error) {
	body := struct {
		GameID    string `json:"game_id"`
		PlayAgain bool   `json:"play_again"`
	}{gameID, again}
	var out playAgainResponse
	if err := c.bearer(ctx, http.MethodPost, "/play_again", token, nil, body, &out); err != nil {
		return models.PlayAgain{}, err
	}
	return out.toModel(), nil
}

// PollPlayAgain polls the rematch negotiation of a finished game
func (c *Client) PollPlayAgain(ctx context.Context, token, gameID string) (models.PlayAgain, error) {
	q := url.Values{"game_id": {gameID}}
	var out playAgainResponse
	if err := c.bearer(ctx, http.MethodGet, "/poll_play_again_status", token, q, nil, &out); err != nil {
		return models.PlayAgain{}, err
	}
	return out.toModel(), nil
}

// OngoingGames lists the user's unfinished games
func (c *Client) OngoingGames(ctx context.Context, token string) ([]models.GameSummary, error) {
	var out struct {
		OngoingGames []struct {
			GameID         string         `json:"game_id"`
			Opponent       string         `json:"opponent"`
			YouPlayingX    bool           `json:"you_playing_x"`
			Mode           string         `json:"play_again_scheme"`
			GridProperties gridProperties `json:"grid_properties"`
		} `json:"ongoing_games"`
	}
	if err := c.bearer(ctx, http.MethodGet, "/get_ongoing_games", token, nil, nil, &out); err != nil {
		return nil, err
	}
	games := make([]models.GameSummary, 0, len(out.OngoingGames))
	for _, g := range out.OngoingGames {
		games = append(games, models.GameSummary{
			ID:          g.GameID,
			Opponent:    g.Opponent,
			Token:       markOf(g.YouPlayingX),
			GridSize:    g.GridProperties.Size,
			WinningLine: g.GridProperties.WinningLine,
			Mode:        models.Mode(g.Mode),
		})
	}
	return games, nil
}
