package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer review", role: RoleViewer, action: ActionReview, allow: false},
		{name: "viewer export", role: RoleViewer, action: ActionExport, allow: false},
		{name: "reviewer review", role: RoleReviewer, action: ActionReview, allow: true},
		{name: "reviewer export", role: RoleReviewer, action: ActionExport, allow: true},
		{name: "reviewer upload", role: RoleReviewer, action: ActionUpload, allow: false},
		{name: "editor upload", role: RoleEditor, action: ActionUpload, allow: true},
		{name: "editor manage", role: RoleEditor, action: ActionManage, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManage, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("reviewer"); got != RoleReviewer {
		t.Fatalf("Normalize(reviewer) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("Normalize(superuser) = %q, want viewer", got)
	}
}
