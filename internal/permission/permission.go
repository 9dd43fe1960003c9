// Package permission implements the role × chat-type permission matrix of
// spec.md §4.6 as pure functions over model types, with no storage of its
// own.
package permission

import "github.com/fechatter/messaging-core/internal/model"

// Op is one of the operations the matrix gates.
type Op string

const (
	OpPostMessage    Op = "post_message"
	OpEditOwn        Op = "edit_own_message"
	OpEditAny        Op = "edit_any_message"
	OpDeleteOwn      Op = "delete_own_message"
	OpDeleteAny      Op = "delete_any_message"
	OpAddMember      Op = "add_member"
	OpRemoveMember   Op = "remove_member"
	OpChangeRole     Op = "change_role"
	OpManageInvites  Op = "manage_invites"
	OpPin            Op = "pin_message"
	OpMuteMember     Op = "mute_member"
)

// Can reports whether role may perform op in a chat of the given type.
// Single (DM) chats have no admin operations and no membership changes;
// DM messages are deletable only by their sender, which Can expresses by
// rejecting OpDeleteAny for Single chats regardless of role.
func Can(role model.MemberRole, chatType model.ChatType, op Op) bool {
	if chatType == model.ChatSingle {
		return canSingle(op)
	}

	switch role {
	case model.RoleOwner:
		return true
	case model.RoleAdmin:
		switch op {
		case OpAddMember, OpRemoveMember, OpChangeRole, OpPin, OpEditAny, OpManageInvites,
			OpPostMessage, OpEditOwn, OpDeleteOwn:
			return true
		}
		return false
	case model.RoleModerator:
		switch op {
		case OpDeleteAny, OpMuteMember, OpPostMessage, OpEditOwn, OpDeleteOwn:
			return true
		}
		return false
	case model.RoleMember:
		switch op {
		case OpPostMessage, OpEditOwn, OpDeleteOwn:
			return true
		}
		return false
	}
	return false
}

func canSingle(op Op) bool {
	switch op {
	case OpPostMessage, OpEditOwn, OpDeleteOwn:
		return true
	}
	return false
}

// CanRemoveOwner reports whether actorRole may remove or demote the owner
// of a chat. The owner can never be removed or demoted by anyone
// (spec.md §4.6) — exactly one owner exists per chat for its lifetime.
func CanRemoveOwner(model.MemberRole) bool {
	return false
}
