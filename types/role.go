package types

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Role represents the access tier of a user.
//
// The zero value is RoleUnknown so that an uninitialized Role never grants
// access. On the wire and in the database a role is the numeric code
// 0 (root), 1 (admin) or 2 (inspector); see Code and RoleFromCode.
type Role uint8

// Supported roles.
const (
	// RoleUnknown is the zero value and never matches an allow-list.
	RoleUnknown Role = iota

	// RoleRoot has full control, including deleting users.
	RoleRoot

	// RoleAdmin has operational control over jobs, reports and labels.
	RoleAdmin

	// RoleInspector performs inspections and submits reports.
	RoleInspector
)

// ErrInvalidRole is returned when a role code is outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// Wire codes for each role.
const (
	roleCodeRoot      = 0
	roleCodeAdmin     = 1
	roleCodeInspector = 2
)

// RoleFromCode maps a wire code to a Role.
func RoleFromCode(code int64) (Role, error) {
	switch code {
	case roleCodeRoot:
		return RoleRoot, nil
	case roleCodeAdmin:
		return RoleAdmin, nil
	case roleCodeInspector:
		return RoleInspector, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %d", ErrInvalidRole, code)
	}
}

// Code returns the wire code of the role, or -1 for RoleUnknown.
func (r Role) Code() int {
	switch r {
	case RoleRoot:
		return roleCodeRoot
	case RoleAdmin:
		return roleCodeAdmin
	case RoleInspector:
		return roleCodeInspector
	default:
		return -1
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Code() >= 0
}

// Label returns the display label used in joined user references.
func (r Role) Label() string {
	switch r {
	case RoleRoot:
		return "Super Admin"
	case RoleAdmin:
		return "Admin"
	case RoleInspector:
		return "Inspector"
	default:
		return "Unknown"
	}
}

func (r Role) String() string {
	switch r {
	case RoleRoot:
		return "root"
	case RoleAdmin:
		return "admin"
	case RoleInspector:
		return "inspector"
	default:
		return "unknown"
	}
}

// In reports whether r is contained in roles.
func (r Role) In(roles ...Role) bool {
	for _, role := range roles {
		if role == r && r.Valid() {
			return true
		}
	}
	return false
}

// RoleLabelFromCode decorates a stored role code with its display label.
// A missing code or an unknown value yields "Unknown".
func RoleLabelFromCode(code int64, valid bool) string {
	if !valid {
		return RoleUnknown.Label()
	}
	role, err := RoleFromCode(code)
	if err != nil {
		return RoleUnknown.Label()
	}
	return role.Label()
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(r.Code())
}

// UnmarshalJSON accepts only JSON numbers. Quoted codes such as "0" are
// rejected so that a single representation is used across the API.
func (r *Role) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '"' {
		return ErrInvalidRole
	}
	var code int64
	if err := json.Unmarshal(data, &code); err != nil {
		return ErrInvalidRole
	}
	role, err := RoleFromCode(code)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, ErrInvalidRole
	}
	return int64(r.Code()), nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	var code int64
	switch v := src.(type) {
	case int64:
		code = v
	case int32:
		code = int64(v)
	case nil:
		*r = RoleUnknown
		return nil
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidRole, src)
	}
	role, err := RoleFromCode(code)
	if err != nil {
		return err
	}
	*r = role
	return nil
}
