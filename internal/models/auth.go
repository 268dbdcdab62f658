package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles recognised by route guards.
type UserRole string

const (
	RoleStudent    UserRole = "STUDENT"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleAdmin      UserRole = "ADMIN"
)

// JWTClaims is the access token payload issued by the identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal is the caller identity resolved once per request and passed into services.
type Principal struct {
	StudentID   string
	StudentName string
	Role        UserRole
}

// Principal converts validated claims into a request principal.
func (c *JWTClaims) Principal() Principal {
	return Principal{StudentID: c.UserID, StudentName: c.FullName, Role: c.Role}
}
