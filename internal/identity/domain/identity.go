package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the fixed privilege enumeration. RoleOwner is the highest-privilege role.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// Roles lists every role from highest to lowest privilege.
var Roles = []Role{RoleOwner, RoleAdmin, RoleStaff, RoleCustomer}

// ParseRole maps a case-insensitive name to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Privileged reports whether r is the highest-privilege role (subject to the IP allow-list).
func (r Role) Privileged() bool { return r == RoleOwner }

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Identity is an account being authenticated. The engine only reads it and updates login metadata.
type Identity struct {
	ID              string
	Role            Role
	Identifier      string // phone number or username
	SecretHash      string // bcrypt
	Status          Status
	Phone           string
	Email           string
	LastLoginAt     *time.Time
	LastLoginOrigin string
	CreatedAt       time.Time
}

// Active reports whether the identity may log in.
func (i *Identity) Active() bool { return i != nil && i.Status == StatusActive }

// Validate checks required fields before persistence.
func (i *Identity) Validate() error {
	if i.ID == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(i.Identifier) == "" {
		return errors.New("identifier is required")
	}
	if _, err := ParseRole(string(i.Role)); err != nil {
		return err
	}
	if i.SecretHash == "" {
		return errors.New("secret hash is required")
	}
	if i.Status == "" {
		i.Status = StatusActive
	}
	return nil
}

// NormalizeIdentifier trims surrounding whitespace. Identifiers are phone numbers or usernames
// and are compared exactly after trimming.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}
