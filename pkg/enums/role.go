package enums

import (
	"fmt"
	"slices"
)

// Role is the caller's role as carried in the access token.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

var roles = []Role{RoleCustomer, RoleAdmin}

func (r Role) IsValid() bool {
	return slices.Contains(roles, r)
}

func ParseRole(value string) (Role, error) {
	if r := Role(value); r.IsValid() {
		return r, nil
	}
	return "", fmt.Errorf("invalid role %q", value)
}
