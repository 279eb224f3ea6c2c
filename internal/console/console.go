// Package console is a line-oriented front end: it turns typed commands
// into client commands and prints the resulting state as plain text.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"tictacgrid/internal/broadcast"
	"tictacgrid/internal/client"
	"tictacgrid/internal/game"
	"tictacgrid/internal/matchmaking"
	"tictacgrid/internal/models"
)

var ErrUsage = errors.New("usage")

const help = `commands:
  login <user> <password>       register <user> <password>
  users                         refresh
  invite <user> <size> <line> [x|o] [same|alternating|winner_plays_x|winner_plays_o]
  received                      sent
  accept <id>                   decline <id>
  cancel <id>                   play <id>
  status <id>
  games                         resume <game id>
  move <cell> (or just <cell>, e.g. b3)
  board                         again
  menu                          logout
  help                          quit
`

// Client is the part of client.App the console drives
type Client interface {
	Dispatch(ctx context.Context, cmd client.Command) error
	Screen() client.Screen
	Lobby() matchmaking.Snapshot
	Game() game.View
	Username() string
}

// Console reads commands and writes plain text
type Console struct {
	app     Client
	timeout time.Duration

	mu  sync.Mutex
	out io.Writer
}

// New creates a console writing to out. Every command gets timeout to
// complete; zero means no limit.
func New(app Client, out io.Writer, timeout time.Duration) *Console {
	return &Console{app: app, out: out, timeout: timeout}
}

// Run executes lines from in until quit, EOF or ctx is done
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.printf("%s", help)
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		c.prompt()
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if quit := c.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one line and reports whether the user asked to quit
func (c *Console) Exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var err error
	switch name {
	case "quit", "exit":
		return true
	case "help", "?":
		c.printf("%s", help)
	case "login", "register":
		if len(args) != 2 {
			err = fmt.Errorf("%w: %s <user> <password>", ErrUsage, name)
			break
		}
		err = c.app.Dispatch(ctx, client.Command{Op: name, Username: args[0], Password: args[1]})
		if err == nil {
			c.printf("logged in as %s\n", c.app.Username())
			c.printf("%s", RenderReceived(c.app.Lobby()))
		}
	case "users":
		c.printf("%s", RenderUsers(c.app.Lobby()))
	case "received":
		c.printf("%s", RenderReceived(c.app.Lobby()))
	case "sent":
		c.printf("%s", RenderSent(c.app.Lobby()))
	case "games":
		c.printf("%s", RenderGames(c.app.Lobby()))
	case "refresh":
		if err = c.app.Dispatch(ctx, client.Command{Op: client.OpRefresh}); err == nil {
			s := c.app.Lobby()
			c.printf("%s%s%s", RenderUsers(s), RenderReceived(s), RenderSent(s))
		}
	case "invite":
		var req models.InvitationRequest
		if req, err = parseInvite(args); err == nil {
			if err = c.app.Dispatch(ctx, client.Command{Op: client.OpInvite, Invite: req}); err == nil {
				c.printf("invited %s\n", req.Invited)
			}
		}
	case "accept", "decline", "cancel", "play", "status":
		if len(args) != 1 {
			err = fmt.Errorf("%w: %s <id>", ErrUsage, name)
			break
		}
		err = c.app.Dispatch(ctx, client.Command{Op: name, InvitationID: args[0]})
		switch {
		case err != nil:
		case name == "accept" || name == "play":
			c.printf("%s", RenderGame(c.app.Game()))
		case name == "status":
			c.printf("%s", RenderSent(c.app.Lobby()))
		}
	case "resume":
		if len(args) != 1 {
			err = fmt.Errorf("%w: resume <game id>", ErrUsage)
			break
		}
		if err = c.app.Dispatch(ctx, client.Command{Op: client.OpResume, GameID: args[0]}); err == nil {
			c.printf("%s", RenderGame(c.app.Game()))
		}
	case "move":
		if len(args) != 1 {
			err = fmt.Errorf("%w: move <cell>", ErrUsage)
			break
		}
		err = c.move(ctx, args[0])
	case "board":
		c.printf("%s", RenderGame(c.app.Game()))
	case "again":
		if err = c.app.Dispatch(ctx, client.Command{Op: client.OpPlayAgain}); err == nil {
			c.printf("%s", RenderGame(c.app.Game()))
		}
	case "menu":
		if err = c.app.Dispatch(ctx, client.Command{Op: client.OpMainMenu}); err == nil {
			c.printf("back in the lobby\n")
		}
	case "logout":
		if err = c.app.Dispatch(ctx, client.Command{Op: client.OpLogout}); err == nil {
			c.printf("logged out\n")
		}
	default:
		if _, _, decodeErr := models.DecodeCell(name); decodeErr == nil && len(args) == 0 {
			err = c.move(ctx, name)
			break
		}
		err = fmt.Errorf("unknown command %q, type help", name)
	}

	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *Console) move(ctx context.Context, cell string) error {
	if err := c.app.Dispatch(ctx, client.Command{Op: client.OpMove, Cell: cell}); err != nil {
		return err
	}
	c.printf("%s", RenderGame(c.app.Game()))
	return nil
}

// Follow prints the game whenever the server changes it, so opponent
// moves show up without typing board. It returns when ctx is done.
func (c *Console) Follow(ctx context.Context, hub *broadcast.Hub) {
	events := make(chan broadcast.Event, 8)
	hub.Subscribe(client.TopicGame, events)
	defer hub.Unsubscribe(client.TopicGame, events)

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			v, ok := e.Data.(game.View)
			if !ok || v.Game == nil {
				continue
			}
			// only turn or outcome changes are worth interrupting the prompt
			key := v.Game.ID + v.Status()
			if key == last {
				continue
			}
			last = key
			if v.Game.IsYourTurn || v.Phase == game.PhaseTerminal {
				c.printf("\n%s", RenderGame(v))
				c.prompt()
			}
		}
	}
}

func (c *Console) prompt() {
	screen := c.app.Screen()
	if user := c.app.Username(); user != "" {
		c.printf("%s@%s> ", user, screen)
		return
	}
	c.printf("%s> ", screen)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func parseInvite(args []string) (models.InvitationRequest, error) {
	usage := fmt.Errorf("%w: invite <user> <size> <line> [x|o] [mode]", ErrUsage)
	if len(args) < 3 || len(args) > 5 {
		return models.InvitationRequest{}, usage
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		return models.InvitationRequest{}, usage
	}
	line, err := strconv.Atoi(args[2])
	if err != nil {
		return models.InvitationRequest{}, usage
	}
	req := models.InvitationRequest{
		Invited:         args[0],
		GridSize:        size,
		WinningLine:     line,
		InviterPlayingX: true,
	}
	if len(args) > 3 {
		switch strings.ToLower(args[3]) {
		case "x":
		case "o":
			req.InviterPlayingX = false
		default:
			return models.InvitationRequest{}, usage
		}
	}
	if len(args) > 4 {
		req.Mode = models.Mode(strings.ToLower(args[4]))
	}
	return req, nil
}
