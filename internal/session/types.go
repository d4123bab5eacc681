package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRole = errors.New("session: invalid role")

// Role is the coarse identity category assigned by the backend.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleDeveloper  Role = "developer"
	RoleClient     Role = "client"
)

// Roles lists every role the backend may assign.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleDeveloper, RoleClient}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Address is the optional postal block inside a profile.
type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
}

// Profile carries the role-agnostic display fields of a user.
type Profile struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	FullName  string   `json:"fullName,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

// Organization is the org a user belongs to, if any.
type Organization struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// User is the identity record issued by the backend. The session store
// replaces it wholesale; callers must not mutate it field by field.
type User struct {
	ID           string        `json:"_id"`
	Email        string        `json:"email"`
	Role         Role          `json:"role"`
	Profile      Profile       `json:"profile"`
	Permissions  []string      `json:"permissions"`
	Organization *Organization `json:"organization,omitempty"`
	IsActive     bool          `json:"isActive"`
	LastLogin    *time.Time    `json:"lastLogin,omitempty"`
	CreatedAt    time.Time     `json:"createdAt,omitzero"`
	UpdatedAt    time.Time     `json:"updatedAt,omitzero"`
}
