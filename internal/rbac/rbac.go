package rbac

type Role string
type Action string

const (
	RoleChairperson Role = "chairperson"
	RoleSecretary   Role = "secretary"
	RoleMember      Role = "member"
	RoleViewer      Role = "viewer"
)

const (
	ActionView     Action = "view"
	ActionEdit     Action = "edit"
	ActionInitiate Action = "initiate"
	ActionClose    Action = "close"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionReset    Action = "reset"
	ActionAudit    Action = "audit"
)

// grants is the full privilege table. Chairperson holds every action.
var grants = map[Role]map[Action]bool{
	RoleChairperson: {
		ActionView:     true,
		ActionEdit:     true,
		ActionInitiate: true,
		ActionClose:    true,
		ActionApprove:  true,
		ActionReject:   true,
		ActionReset:    true,
		ActionAudit:    true,
	},
	RoleSecretary: {
		ActionView:  true,
		ActionEdit:  true,
		ActionAudit: true,
	},
	RoleMember: {
		ActionView: true,
		ActionEdit: true,
	},
	RoleViewer: {
		ActionView:  true,
		ActionAudit: true,
	},
}

func Can(role Role, action Action) bool {
	return grants[role][action]
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleChairperson, RoleSecretary, RoleMember, RoleViewer:
		return Role(role)
	default:
		return RoleViewer
	}
}
