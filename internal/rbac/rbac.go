package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleReviewer Role = "reviewer"
	RoleEditor   Role = "editor"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionUpload Action = "upload"
	ActionReview Action = "review"
	ActionExport Action = "export"
	ActionManage Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionUpload || action == ActionReview || action == ActionExport
	case RoleReviewer:
		return action == ActionRead || action == ActionReview || action == ActionExport
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleReviewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
