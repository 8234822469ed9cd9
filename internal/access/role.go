// Package access decides which orders a tenant role may see and which order
// fields it may change. Every function here is pure: callers pass the resolved
// role and, where needed, the order being checked.
package access

import (
	"context"
	"strings"
)

// Role identifies one of the tenants sharing the orders collection.
type Role string

const (
	// RoleOperator is the logistics operator (Go Rush) that delivers for both pharmacies.
	RoleOperator Role = "gorush"
	// RoleJPMC is the pharmacy tenant that owns untagged legacy orders.
	RoleJPMC Role = "jpmc"
	// RoleMOH is the Ministry of Health pharmacy tenant.
	RoleMOH Role = "moh"
	// RoleUnknown is assigned to any role string we do not recognise.
	RoleUnknown Role = ""
)

// Product tags stored on orders.
const (
	ProductJPMC = "pharmacyjpmc"
	ProductMOH  = "pharmacymoh"
)

// mohExcludedProducts are tagged products that never fall through to the MOH tenant.
var mohExcludedProducts = []string{ProductJPMC, "kptdp", "other_product"}

// ParseRole normalises a raw role string. An empty value resolves to fallback;
// anything unrecognised resolves to RoleUnknown, which sees and writes nothing.
func ParseRole(raw string, fallback Role) Role {
	role := strings.ToLower(strings.TrimSpace(raw))
	if role == "" {
		return fallback
	}
	switch role {
	case "gorush", "go-rush":
		return RoleOperator
	case "jpmc":
		return RoleJPMC
	case "moh":
		return RoleMOH
	default:
		return RoleUnknown
	}
}

// Known reports whether r is one of the three tenant roles.
func (r Role) Known() bool {
	return r == RoleOperator || r == RoleJPMC || r == RoleMOH
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

type roleKey struct{}

// WithRole attaches the caller's resolved role to ctx for the lifetime of one request.
func WithRole(ctx context.Context, r Role) context.Context {
	return context.WithValue(ctx, roleKey{}, r)
}

// FromContext returns the role stored by WithRole, or RoleUnknown when none was set.
func FromContext(ctx context.Context) Role {
	r, ok := ctx.Value(roleKey{}).(Role)
	if !ok {
		return RoleUnknown
	}
	return r
}
