package models

import "fmt"

// Mark represents a player's symbol on the board
type Mark string

const (
	MarkX Mark = "x"
	MarkO Mark = "o"
	Empty Mark = ""
)

// Opponent returns the other player's mark
func (m Mark) Opponent() Mark {
	switch m {
	case MarkX:
		return MarkO
	case MarkO:
		return MarkX
	}
	return Empty
}

// State represents the server-reported state of a game
type State string

const (
	StateOngoing State = "ongoing"
	StateWonByX  State = "won_by_x"
	StateWonByO  State = "won_by_o"
	StateDraw    State = "draw"
)

// Valid reports whether s is one of the known game states
func (s State) Valid() bool {
	switch s {
	case StateOngoing, StateWonByX, StateWonByO, StateDraw:
		return true
	}
	return false
}

// Terminal reports whether the game has ended
func (s State) Terminal() bool {
	return s == StateWonByX || s == StateWonByO || s == StateDraw
}

// Mode governs who plays X in a rematch. The rule itself is applied by the
// server; the client only carries the label.
type Mode string

const (
	ModeSame         Mode = "same"
	ModeAlternating  Mode = "alternating"
	ModeWinnerPlaysX Mode = "winner_plays_x"
	ModeWinnerPlaysO Mode = "winner_plays_o"
)

// Valid reports whether m is a known rematch mode
func (m Mode) Valid() bool {
	switch m {
	case ModeSame, ModeAlternating, ModeWinnerPlaysX, ModeWinnerPlaysO:
		return true
	}
	return false
}

// Grid is a square board of marks indexed [row][col]
type Grid [][]Mark

// NewGrid creates an empty board of the given side
func NewGrid(size int) Grid {
	g := make(Grid, size)
	for i := range g {
		g[i] = make([]Mark, size)
	}
	return g
}

// Size returns the side length of the board
func (g Grid) Size() int {
	return len(g)
}

// Clone returns a deep copy of the board
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]Mark(nil), row...)
	}
	return out
}

// InBounds reports whether (row, col) addresses a cell of the board
func (g Grid) InBounds(row, col int) bool {
	return row >= 0 && row < len(g) && col >= 0 && col < len(g[row])
}

// Game is the client's view of one game session
type Game struct {
	ID          string `json:"id"`
	Opponent    string `json:"opponent"`
	Grid        Grid   `json:"grid"`
	WinningLine int    `json:"winningLine"`
	Token       Mark   `json:"token"`
	IsYourTurn  bool   `json:"isYourTurn"`
	State       State  `json:"state"`
	Mode        Mode   `json:"mode"`
}

// Clone returns a copy of the game that shares no board memory
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	c := *g
	c.Grid = g.Grid.Clone()
	return &c
}

// Outcome describes a finished game from this player's side. It returns an
// empty string while the game is ongoing.
func (g *Game) Outcome() string {
	switch g.State {
	case StateDraw:
		return "Draw"
	case StateWonByX:
		if g.Token == MarkX {
			return "You win!"
		}
		return "You lose!"
	case StateWonByO:
		if g.Token == MarkO {
			return "You win!"
		}
		return "You lose!"
	}
	return ""
}

// TurnHint describes whose move it is while the game is ongoing
func (g *Game) TurnHint() string {
	if g.State != StateOngoing {
		return ""
	}
	if g.IsYourTurn {
		return "Choose your next move"
	}
	return "Waiting for opponent to move"
}

// GameSummary is an entry of the ongoing games list
type GameSummary struct {
	ID          string `json:"id"`
	Opponent    string `json:"opponent"`
	Token       Mark   `json:"token"`
	GridSize    int    `json:"gridSize"`
	WinningLine int    `json:"winningLine"`
	Mode        Mode   `json:"mode"`
}

// MovePoll is the result of asking the server for the opponent's latest move
type MovePoll struct {
	NewMove bool
	State   State
	Cell    string
}

// PlayAgainStatus is the state of the rematch negotiation
type PlayAgainStatus string

const (
	PlayAgainNone         PlayAgainStatus = ""
	PlayAgainRequestedByX PlayAgainStatus = "requested_by_x"
	PlayAgainRequestedByO PlayAgainStatus = "requested_by_o"
	PlayAgainDeclined     PlayAgainStatus = "declined"
)

// PlayAgain is the rematch negotiation attached to a finished game
type PlayAgain struct {
	Status     PlayAgainStatus `json:"status"`
	NextGameID string          `json:"nextGameId,omitempty"`
}

// Describe renders the negotiation status for the player holding token
func (p PlayAgain) Describe(token Mark, opponent string) string {
	switch p.Status {
	case PlayAgainDeclined:
		return fmt.Sprintf("%s doesn't want to play again", opponent)
	case PlayAgainRequestedByX:
		if token == MarkX {
			return fmt.Sprintf("you invited %s to play again", opponent)
		}
		return fmt.Sprintf("%s invited you to play again", opponent)
	case PlayAgainRequestedByO:
		if token == MarkO {
			return fmt.Sprintf("you invited %s to play again", opponent)
		}
		return fmt.Sprintf("%s invited you to play again", opponent)
	}
	return ""
}
