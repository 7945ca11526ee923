package access

import (
	"errors"
	"testing"

	"questline/internal/domain"
)

func TestAllowed(t *testing.T) {
	gm := Input{UserID: "g", Role: domain.RoleGamemaster, IsCampaignMember: true}
	owner := Input{UserID: "a", Role: domain.RolePlayer, IsCampaignMember: true, OwnsCharacter: true}
	player := Input{UserID: "b", Role: domain.RolePlayer, IsCampaignMember: true}
	outsider := Input{UserID: "m"}
	admin := Input{UserID: "r", Role: domain.RoleAdmin}

	cases := []struct {
		name string
		in   Input
		op   Operation
		want bool
	}{
		{"admin without membership", admin, OpDelete, true},
		{"gm create", gm, OpCreate, true},
		{"gm reorder", gm, OpReorder, true},
		{"owner progress", owner, OpProgress, true},
		{"owner complete", owner, OpComplete, true},
		{"owner reorder denied", owner, OpReorder, false},
		{"player view", player, OpView, true},
		{"player progress on foreign character", player, OpProgress, false},
		{"player delete on foreign character", player, OpDelete, false},
		{"outsider view", outsider, OpView, false},
		{"outsider progress", outsider, OpProgress, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Allowed(tc.in, tc.op)
			if tc.want && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.want {
				var denied PermissionDeniedError
				if !errors.As(err, &denied) {
					t.Fatalf("expected PermissionDeniedError, got %v", err)
				}
				if denied.Operation != tc.op {
					t.Fatalf("error names %s, want %s", denied.Operation, tc.op)
				}
			}
		})
	}
}
