package models

import (
	"errors"
	"fmt"
)

const (
	MinGridSize    = 3
	MaxGridSize    = 15
	MinWinningLine = 3
)

var (
	ErrInvitedRequired = errors.New("invited username is required")
	ErrGridSize        = fmt.Errorf("grid size must be between %d and %d", MinGridSize, MaxGridSize)
	ErrWinningLine     = fmt.Errorf("winning line must be at least %d and not exceed grid size", MinWinningLine)
	ErrInvalidMode     = errors.New("invalid play again mode")
)

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Valid reports whether s is a known invitation status
func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationDeclined, InvitationCancelled:
		return true
	}
	return false
}

// Invitation represents a proposed match
type Invitation struct {
	ID              string           `json:"id"`
	Inviter         string           `json:"inviter,omitempty"`
	Invited         string           `json:"invited,omitempty"`
	GridSize        int              `json:"gridSize"`
	WinningLine     int              `json:"winningLine"`
	InviterPlayingX bool             `json:"inviterPlayingX"`
	Mode            Mode             `json:"mode"`
	Status          InvitationStatus `json:"status"`
	GameID          string           `json:"gameId,omitempty"`
}

// Cancellable reports whether the sender may still withdraw the invitation
func (i Invitation) Cancellable() bool {
	return i.Status == InvitationPending
}

// Playable reports whether the invitation has produced a game
func (i Invitation) Playable() bool {
	return i.Status == InvitationAccepted && i.GameID != ""
}

// InviterMark is the mark the sender plays
func (i Invitation) InviterMark() Mark {
	if i.InviterPlayingX {
		return MarkX
	}
	return MarkO
}

// InvitedMark is the mark the recipient plays
func (i Invitation) InvitedMark() Mark {
	return i.InviterMark().Opponent()
}

// Normalize drops a game id the status does not allow
func (i Invitation) Normalize() Invitation {
	if i.Status != InvitationAccepted {
		i.GameID = ""
	}
	return i
}

// InvitationRequest is the typed payload of an invite form
type InvitationRequest struct {
	Invited         string `json:"invited"`
	GridSize        int    `json:"gridSize"`
	WinningLine     int    `json:"winningLine"`
	InviterPlayingX bool   `json:"inviterPlayingX"`
	Mode            Mode   `json:"mode,omitempty"`
}

// WithDefaults fills optional fields
func (r InvitationRequest) WithDefaults() InvitationRequest {
	if r.Mode == "" {
		r.Mode = ModeSame
	}
	return r
}

// Validate checks the request before it is sent
func (r InvitationRequest) Validate() error {
	if r.Invited == "" {
		return ErrInvitedRequired
	}
	if r.GridSize < MinGridSize || r.GridSize > MaxGridSize {
		return ErrGridSize
	}
	if r.WinningLine < MinWinningLine || r.WinningLine > r.GridSize {
		return ErrWinningLine
	}
	if r.Mode != "" && !r.Mode.Valid() {
		return ErrInvalidMode
	}
	return nil
}
