package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Identity describes an authenticated caller. Tables is the table-level
// grant set consumed by the SQL validator; an empty set with AllTables
// false means the caller may not reference any table.
type Identity struct {
	TenantID  string
	Roles     []string
	Tables    []string
	AllTables bool
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func (i Identity) CanAccessTable(table string) bool {
	if i.AllTables {
		return true
	}
	table = strings.ToLower(strings.TrimSpace(table))
	for _, granted := range i.Tables {
		if granted == table {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses entries of the form
// key:tenant:role|role[:table|table]. A missing or "*" table part grants
// access to every table.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:tenant:role|role[:table|table]", entry)
		}
		key := strings.TrimSpace(parts[0])
		tenant := strings.TrimSpace(parts[1])
		if key == "" || tenant == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/tenant", entry)
		}
		roles := splitGrantList(parts[2])
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)

		identity := Identity{TenantID: tenant, Roles: roles, AllTables: true}
		if len(parts) == 4 {
			tables := splitGrantList(strings.ToLower(parts[3]))
			if len(tables) == 1 && tables[0] == "*" {
				identity.AllTables = true
			} else if len(tables) > 0 {
				sort.Strings(tables)
				identity.Tables = tables
				identity.AllTables = false
			}
		}
		validator.keys[key] = identity
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func splitGrantList(raw string) []string {
	parts := strings.Split(strings.TrimSpace(raw), "|")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	return values
}
