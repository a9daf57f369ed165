package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

var (
	ErrUnknownRole = errors.New("unknown turn role")
	ErrEmptyParts  = errors.New("turn has no parts")
)

// Part is a single text fragment of a turn.
type Part struct {
	Text string `json:"text"`
}

// Turn is one role-tagged message of a conversation. Parts mirror the
// provider's turn structure; in practice a turn carries a single part.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextTurn builds a single-part turn.
func NewTextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins all parts in order.
func (t Turn) Text() string {
	if len(t.Parts) == 1 {
		return t.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range t.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Validate checks the invariants of a finalized turn.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, t.Role)
	}
	if len(t.Parts) == 0 {
		return ErrEmptyParts
	}
	return nil
}

func (t Turn) clone() Turn {
	parts := make([]Part, len(t.Parts))
	copy(parts, t.Parts)
	return Turn{Role: t.Role, Parts: parts}
}
