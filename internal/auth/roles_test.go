package auth

import "testing"

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		value string
		want  Role
		ok    bool
	}{
		{"viewer", RoleViewer, true},
		{"operator", RoleOperator, true},
		{"admin", RoleAdmin, true},
		{"root", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeRole(tc.value)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeRole(%q) = %q, %v", tc.value, got, ok)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	if !RoleAtLeast(RoleAdmin, RoleOperator) {
		t.Fatalf("admin must satisfy operator")
	}
	if !RoleAtLeast(RoleOperator, RoleOperator) {
		t.Fatalf("operator must satisfy operator")
	}
	if RoleAtLeast(RoleViewer, RoleOperator) {
		t.Fatalf("viewer must not satisfy operator")
	}
	if RoleAtLeast("", RoleViewer) {
		t.Fatalf("unknown role must not satisfy viewer")
	}
}
