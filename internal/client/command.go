package client

import (
	"context"
	"errors"
	"fmt"

	"tictacgrid/internal/models"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArg     = errors.New("missing argument")
)

// Command operations
const (
	OpLogin     = "login"
	OpRegister  = "register"
	OpRefresh   = "refresh"
	OpInvite    = "invite"
	OpAccept    = "accept"
	OpDecline   = "decline"
	OpCancel    = "cancel"
	OpStatus    = "status"
	OpPlay      = "play"
	OpResume    = "resume"
	OpMove      = "move"
	OpPlayAgain = "play_again"
	OpMainMenu  = "main_menu"
	OpLogout    = "logout"
)

// Command is one user action, as sent by a front end
type Command struct {
	Op           string                   `json:"op"`
	Username     string                   `json:"username,omitempty"`
	Password     string                   `json:"password,omitempty"`
	InvitationID string                   `json:"invitationId,omitempty"`
	GameID       string                   `json:"gameId,omitempty"`
	Cell         string                   `json:"cell,omitempty"`
	Invite       models.InvitationRequest `json:"invite"`
}

// Dispatch runs cmd against the app
func (a *App) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpLogin:
		return a.Login(ctx, cmd.Username, cmd.Password)
	case OpRegister:
		return a.Register(ctx, cmd.Username, cmd.Password)
	case OpRefresh:
		return a.Refresh(ctx)
	case OpInvite:
		_, err := a.Invite(ctx, cmd.Invite)
		return err
	case OpAccept:
		if err := need(cmd.Op, "invitationId", cmd.InvitationID); err != nil {
			return err
		}
		return a.Accept(ctx, cmd.InvitationID)
	case OpDecline:
		if err := need(cmd.Op, "invitationId", cmd.InvitationID); err != nil {
			return err
		}
		return a.Decline(ctx, cmd.InvitationID)
	case OpCancel:
		if err := need(cmd.Op, "invitationId", cmd.InvitationID); err != nil {
			return err
		}
		return a.Cancel(ctx, cmd.InvitationID)
	case OpStatus:
		if err := need(cmd.Op, "invitationId", cmd.InvitationID); err != nil {
			return err
		}
		return a.CheckInvitation(ctx, cmd.InvitationID)
	case OpPlay:
		if err := need(cmd.Op, "invitationId", cmd.InvitationID); err != nil {
			return err
		}
		return a.Play(ctx, cmd.InvitationID)
	case OpResume:
		if err := need(cmd.Op, "gameId", cmd.GameID); err != nil {
			return err
		}
		return a.Resume(ctx, cmd.GameID)
	case OpMove:
		if err := need(cmd.Op, "cell", cmd.Cell); err != nil {
			return err
		}
		return a.Move(ctx, cmd.Cell)
	case OpPlayAgain:
		return a.PlayAgain(ctx)
	case OpMainMenu:
		return a.MainMenu(ctx)
	case OpLogout:
		a.Logout(ctx)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Op)
}

func need(op, name, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w %s", op, ErrMissingArg, name)
	}
	return nil
}
