package types

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleDJ    Role = "DJ"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts the role names case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleUser, RoleDJ, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanModerate reports whether the role may issue mute/unmute.
func (r Role) CanModerate() bool {
	return r == RoleDJ || r == RoleAdmin
}

// User is the server-resolved identity of a connection. Name and Role come from the account directory,
// never from event payloads.
type User struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	Role      Role      `json:"role" gorm:"not null"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
