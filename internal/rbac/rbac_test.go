package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer view", role: RoleViewer, action: ActionView, allow: true},
		{name: "viewer edit", role: RoleViewer, action: ActionEdit, allow: false},
		{name: "viewer initiate", role: RoleViewer, action: ActionInitiate, allow: false},
		{name: "member edit", role: RoleMember, action: ActionEdit, allow: true},
		{name: "member close", role: RoleMember, action: ActionClose, allow: false},
		{name: "member audit", role: RoleMember, action: ActionAudit, allow: false},
		{name: "secretary edit", role: RoleSecretary, action: ActionEdit, allow: true},
		{name: "secretary approve", role: RoleSecretary, action: ActionApprove, allow: false},
		{name: "secretary reject", role: RoleSecretary, action: ActionReject, allow: false},
		{name: "secretary audit", role: RoleSecretary, action: ActionAudit, allow: true},
		{name: "chairperson initiate", role: RoleChairperson, action: ActionInitiate, allow: true},
		{name: "chairperson close", role: RoleChairperson, action: ActionClose, allow: true},
		{name: "chairperson approve", role: RoleChairperson, action: ActionApprove, allow: true},
		{name: "chairperson reject", role: RoleChairperson, action: ActionReject, allow: true},
		{name: "chairperson reset", role: RoleChairperson, action: ActionReset, allow: true},
		{name: "unknown role", role: Role("intern"), action: ActionView, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeDefaultsToViewer(t *testing.T) {
	if got := Normalize("chairperson"); got != RoleChairperson {
		t.Fatalf("Normalize(chairperson) = %q", got)
	}
	if got := Normalize("somebody"); got != RoleViewer {
		t.Fatalf("Normalize(somebody) = %q, want viewer", got)
	}
}
