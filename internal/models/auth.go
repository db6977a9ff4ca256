package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens issued by the identity service.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Role         UserRole `json:"role"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	DepartmentID string   `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// IsStaff reports whether the caller acts on behalf of the institution.
func (c *JWTClaims) IsStaff() bool {
	if c == nil {
		return false
	}
	switch c.Role {
	case RoleSuperAdmin, RoleAdmin, RoleTeacher:
		return true
	}
	return false
}
