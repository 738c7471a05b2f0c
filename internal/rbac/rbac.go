package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionEdit    Action = "edit"
	ActionPublish Action = "publish"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionEdit || action == ActionPublish
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps the identity provider's role claim onto a local role.
// Any signed-in user is an editor; unknown roles only read.
func Normalize(role string) Role {
	switch role {
	case string(RoleEditor), "authenticated":
		return RoleEditor
	case string(RoleAdmin), "service_role":
		return RoleAdmin
	default:
		return RoleViewer
	}
}
