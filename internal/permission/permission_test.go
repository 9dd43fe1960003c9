package permission

import (
	"testing"

	"github.com/fechatter/messaging-core/internal/model"
)

func TestCan_GroupChat(t *testing.T) {
	tests := []struct {
		name string
		role model.MemberRole
		op   Op
		want bool
	}{
		{"owner can do anything", model.RoleOwner, OpManageInvites, true},
		{"admin can add member", model.RoleAdmin, OpAddMember, true},
		{"admin cannot mute member", model.RoleAdmin, OpMuteMember, false},
		{"moderator can delete any message", model.RoleModerator, OpDeleteAny, true},
		{"moderator cannot add member", model.RoleModerator, OpAddMember, false},
		{"member can post", model.RoleMember, OpPostMessage, true},
		{"member cannot delete any message", model.RoleMember, OpDeleteAny, false},
		{"member cannot change role", model.RoleMember, OpChangeRole, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Can(tt.role, model.ChatGroup, tt.op)
			if got != tt.want {
				t.Errorf("Can(%s, group, %s) = %v, want %v", tt.role, tt.op, got, tt.want)
			}
		})
	}
}

func TestCan_SingleChat(t *testing.T) {
	tests := []struct {
		name string
		role model.MemberRole
		op   Op
		want bool
	}{
		{"owner still cannot delete any message in a DM", model.RoleOwner, OpDeleteAny, false},
		{"owner can post in a DM", model.RoleOwner, OpPostMessage, true},
		{"member can edit own message in a DM", model.RoleMember, OpEditOwn, true},
		{"no one can add members to a DM", model.RoleOwner, OpAddMember, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Can(tt.role, model.ChatSingle, tt.op)
			if got != tt.want {
				t.Errorf("Can(%s, single, %s) = %v, want %v", tt.role, tt.op, got, tt.want)
			}
		})
	}
}

func TestCanRemoveOwner_AlwaysFalse(t *testing.T) {
	for _, role := range []model.MemberRole{model.RoleOwner, model.RoleAdmin, model.RoleModerator, model.RoleMember} {
		if CanRemoveOwner(role) {
			t.Errorf("CanRemoveOwner(%s) = true, want false: the owner can never be removed or demoted", role)
		}
	}
}
