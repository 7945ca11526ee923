// Package access decides whether a user may perform an operation on a
// project. It is a pure predicate over inputs the caller has already
// resolved; it never touches storage.
package access

import (
	"fmt"

	"questline/internal/domain"
)

// Operation names the engine calls the controller guards.
type Operation string

const (
	OpView     Operation = "view"
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpProgress Operation = "progress"
	OpComplete Operation = "complete"
	OpDelete   Operation = "delete"
	OpReorder  Operation = "reorder"
)

// PermissionDeniedError indicates the operation is not allowed. It
// carries no hierarchy or existence information.
type PermissionDeniedError struct {
	Operation Operation
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("operation %s not permitted", e.Operation)
}

// Input is the (user, role, membership, ownership) tuple for one request.
type Input struct {
	UserID           string
	Role             string
	IsCampaignMember bool
	OwnsCharacter    bool
}

// Allowed returns nil when the tuple may perform op, or a
// PermissionDeniedError. Deny must short-circuit before any hierarchy
// or progress logic runs so a denial never leaks tree state.
func Allowed(in Input, op Operation) error {
	if in.Role == domain.RoleAdmin {
		return nil
	}
	if !in.IsCampaignMember {
		return PermissionDeniedError{Operation: op}
	}
	switch op {
	case OpView:
		return nil
	case OpCreate, OpUpdate, OpProgress, OpComplete, OpDelete:
		if in.Role == domain.RoleGamemaster {
			return nil
		}
		if in.Role == domain.RolePlayer && in.OwnsCharacter {
			return nil
		}
	case OpReorder:
		if in.Role == domain.RoleGamemaster {
			return nil
		}
	}
	return PermissionDeniedError{Operation: op}
}
