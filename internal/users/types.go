package users

import "time"

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is a stored operator account. PasswordHash is never serialised to
// clients.
type User struct {
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// record is the shape persisted in the users DynamoDB table.
type record struct {
	Username     string    `dynamodbav:"username"` // PK
	Role         string    `dynamodbav:"role"`
	PasswordHash string    `dynamodbav:"password_hash"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
}
