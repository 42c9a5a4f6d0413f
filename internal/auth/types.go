package auth

import "strings"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims is what handlers see of a verified token. Sub is the owner id.
type Claims struct {
	Sub       string `json:"sub"`
	Roles     []Role `json:"roles"`
	TokenID   string `json:"jti"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (c *Claims) HasRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRoles turns a comma-separated list such as "user,admin" into roles.
func ParseRoles(s string) []Role {
	var out []Role
	for _, part := range strings.Split(s, ",") {
		if r := strings.TrimSpace(part); r != "" {
			out = append(out, Role(r))
		}
	}
	return out
}
