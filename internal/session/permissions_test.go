package session

import (
	"context"
	"slices"
	"testing"

	"biztreck.org/internal/vault"
)

func TestRoleBaselineTable(t *testing.T) {
	cases := map[Role][]string{
		RoleSuperAdmin: {
			"users.read", "users.write", "users.delete",
			"projects.read", "projects.write", "projects.delete",
			"analytics.read", "settings.read", "settings.write",
			"billing.read", "billing.write",
		},
		RoleAdmin: {
			"users.read", "users.write",
			"projects.read", "projects.write", "projects.delete",
			"analytics.read", "settings.read",
		},
		RoleManager: {
			"users.read", "projects.read", "projects.write", "analytics.read",
		},
		RoleDeveloper: {"projects.read", "projects.write"},
		RoleClient:    {"projects.read"},
	}
	for role, want := range cases {
		got := RolePermissions(role)
		if !slices.Equal(got, want) {
			t.Fatalf("RolePermissions(%s) = %v, want %v", role, got, want)
		}
	}
	if perms := RolePermissions(Role("intern")); perms != nil {
		t.Fatalf("unknown role must grant nothing, got %v", perms)
	}
}

func TestHasPermissionUnionsRoleAndCustom(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u := developerUser() // developer baseline + custom analytics.read
	if err := s.SetAuth(ctx, u, "at", "rt"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	if !s.HasPermission("projects.write") {
		t.Fatal("role baseline permission denied")
	}
	if !s.HasPermission("analytics.read") {
		t.Fatal("custom permission denied")
	}
	if s.HasPermission("billing.write") {
		t.Fatal("permission granted outside role baseline and custom set")
	}
}

func TestHasPermissionSuperAdminBypass(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := developerUser()
	u.Role = RoleSuperAdmin
	u.Permissions = nil
	if err := s.SetAuth(ctx, u, "at", "rt"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	for _, perm := range []string{"billing.write", "made.up.permission", ""} {
		if !s.HasPermission(perm) {
			t.Fatalf("super_admin denied %q", perm)
		}
	}
}

func TestPredicatesWithoutUser(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if s.HasPermission("projects.read") {
		t.Fatal("HasPermission must be false with no user")
	}
	if s.HasRole("admin") || s.IsAdmin() || s.IsSuperAdmin() {
		t.Fatal("role predicates must be false with no user")
	}
}

func TestHasRoleMembership(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, err := New(ctx, v)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SetAuth(ctx, developerUser(), "at", "rt"); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	if s.HasRole("admin", "manager") {
		t.Fatal("developer must not match {admin, manager}")
	}
	if !s.HasRole("developer") {
		t.Fatal("developer must match its own role")
	}

	admin := developerUser()
	admin.Role = RoleAdmin
	if err := s.SetAuth(ctx, admin, "at", "rt"); err != nil {
		t.Fatalf("SetAuth admin: %v", err)
	}
	if !s.HasRole("admin", "manager") {
		t.Fatal("admin must match {admin, manager}")
	}
	if !s.IsAdmin() {
		t.Fatal("IsAdmin must be true for admin")
	}
	if s.IsSuperAdmin() {
		t.Fatal("IsSuperAdmin must be false for admin")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("  Super_Admin "); err != nil || r != RoleSuperAdmin {
		t.Fatalf("ParseRole = (%q, %v)", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
