package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "student read", role: RoleStudent, action: ActionRead, allow: true},
		{name: "student chat", role: RoleStudent, action: ActionChat, allow: true},
		{name: "student create request", role: RoleStudent, action: ActionRequestCreate, allow: true},
		{name: "student accept", role: RoleStudent, action: ActionRequestDecide, allow: false},
		{name: "student notes", role: RoleStudent, action: ActionNotesWrite, allow: false},
		{name: "student review", role: RoleStudent, action: ActionReview, allow: true},
		{name: "tutor accept", role: RoleTutor, action: ActionRequestDecide, allow: true},
		{name: "tutor cancel", role: RoleTutor, action: ActionRequestCancel, allow: false},
		{name: "tutor close", role: RoleTutor, action: ActionSessionClose, allow: true},
		{name: "tutor goals", role: RoleTutor, action: ActionGoalsWrite, allow: true},
		{name: "tutor review", role: RoleTutor, action: ActionReview, allow: false},
		{name: "unknown read", role: Role("admin"), action: ActionRead, allow: false},
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
	if Normalize("tutor") != RoleTutor || Normalize("student") != RoleStudent {
		t.Fatal("expected known roles to pass through")
	}
	if Normalize("editor") != "" {
		t.Fatal("expected unknown role to normalize to empty")
	}
}
