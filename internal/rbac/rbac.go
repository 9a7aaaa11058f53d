package rbac

type Role string
type Action string

const (
	RoleAllocator  Role = "allocator"
	RoleManager    Role = "manager"
	RoleConsultant Role = "consultant"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionAuthor Action = "author_branch"
	ActionAnswer Action = "answer_branch"
	ActionFlag   Action = "flag_branch"
	ActionAdmin  Action = "admin"
)

// Can reports whether a role may perform an action. Allocators and
// consultants author and flag follow-up questions; managers answer them.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAllocator, RoleConsultant:
		return action == ActionRead || action == ActionAuthor || action == ActionFlag
	case RoleManager:
		return action == ActionRead || action == ActionAnswer
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAllocator, RoleManager, RoleConsultant, RoleAdmin:
		return Role(role)
	default:
		return RoleManager
	}
}
