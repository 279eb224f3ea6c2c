package console

import (
	"fmt"
	"strings"

	"tictacgrid/internal/game"
	"tictacgrid/internal/matchmaking"
	"tictacgrid/internal/models"
)

// RenderBoard draws the grid with row letters and column numbers, the same
// coordinates the move command takes.
func RenderBoard(grid models.Grid) string {
	var b strings.Builder
	b.WriteString("   ")
	for c := range grid.Size() {
		fmt.Fprintf(&b, "%3d", c+1)
	}
	b.WriteString("\n")
	for r, row := range grid {
		fmt.Fprintf(&b, "%3c", 'a'+r)
		for _, cell := range row {
			mark := "."
			if cell != models.Empty {
				mark = string(cell)
			}
			fmt.Fprintf(&b, "%3s", mark)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderGame returns the game header, the board and the status line
func RenderGame(v game.View) string {
	if v.Game == nil {
		return "no game\n"
	}
	g := v.Game
	var b strings.Builder
	fmt.Fprintf(&b, "game %s vs %s, you play %s, %d in a row, mode %s\n",
		g.ID, g.Opponent, g.Token, g.WinningLine, g.Mode)
	b.WriteString(RenderBoard(g.Grid))
	fmt.Fprintf(&b, "> %s\n", v.Status())
	return b.String()
}

func describeInvitation(inv models.Invitation, sent bool) string {
	who := "from " + inv.Inviter
	if sent {
		who = "to " + inv.Invited
	}
	line := fmt.Sprintf("%s  %s  %dx%d, %d in a row, inviter plays %s, mode %s",
		inv.ID, who, inv.GridSize, inv.GridSize, inv.WinningLine, inv.InviterMark(), inv.Mode)
	if sent {
		line += "  " + string(inv.Status)
		if inv.Playable() {
			line += " (play " + inv.ID + ")"
		}
	}
	return line + "\n"
}

// RenderUsers lists the users waiting for an opponent
func RenderUsers(s matchmaking.Snapshot) string {
	if len(s.Waiting) == 0 {
		return "no one is waiting\n"
	}
	names := make([]string, len(s.Waiting))
	for i, u := range s.Waiting {
		names[i] = u.Username
	}
	return "waiting: " + strings.Join(names, ", ") + "\n"
}

// RenderReceived lists received invitations
func RenderReceived(s matchmaking.Snapshot) string {
	if len(s.Received) == 0 {
		return "no invitations\n"
	}
	var b strings.Builder
	for _, inv := range s.Received {
		b.WriteString(describeInvitation(inv, false))
	}
	return b.String()
}

// RenderSent lists sent invitations with their status
func RenderSent(s matchmaking.Snapshot) string {
	if len(s.Sent) == 0 {
		return "no sent invitations\n"
	}
	var b strings.Builder
	for _, inv := range s.Sent {
		b.WriteString(describeInvitation(inv, true))
	}
	return b.String()
}

// RenderGames lists ongoing games that can be resumed
func RenderGames(s matchmaking.Snapshot) string {
	if len(s.Games) == 0 {
		return "no ongoing games\n"
	}
	var b strings.Builder
	for _, g := range s.Games {
		fmt.Fprintf(&b, "%s  vs %s  you play %s  %dx%d, %d in a row\n",
			g.ID, g.Opponent, g.Token, g.GridSize, g.GridSize, g.WinningLine)
	}
	return b.String()
}
