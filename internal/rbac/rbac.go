package rbac

type Role string
type Action string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

const (
	ActionRead          Action = "read"
	ActionChat          Action = "chat"
	ActionRequestCreate Action = "request:create"
	ActionRequestCancel Action = "request:cancel"
	ActionRequestDecide Action = "request:decide"
	ActionSessionClose  Action = "session:close"
	ActionNotesWrite    Action = "notes:write"
	ActionGoalsWrite    Action = "goals:write"
	ActionSummaryWrite  Action = "summary:write"
	ActionReview        Action = "review:submit"
	ActionProfileEdit   Action = "profile:edit"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleTutor:
		switch action {
		case ActionRead, ActionChat, ActionRequestDecide, ActionSessionClose,
			ActionNotesWrite, ActionGoalsWrite, ActionSummaryWrite, ActionProfileEdit:
			return true
		}
		return false
	case RoleStudent:
		switch action {
		case ActionRead, ActionChat, ActionRequestCreate, ActionRequestCancel, ActionReview:
			return true
		}
		return false
	default:
		return false
	}
}

// Normalize maps unknown roles to the empty role, which is allowed nothing.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleStudent, RoleTutor:
		return Role(role)
	default:
		return ""
	}
}

func Valid(role string) bool {
	return Normalize(role) != ""
}
