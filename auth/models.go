package auth

import "time"

// Party is an identity that can fund, receive or refund contracts. Contract
// records reference parties by ID.
type Party struct {
	ID           string
	Handle       string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest contains party registration data supplied by callers.
type RegisterRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// LoginRequest contains party login credentials.
type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

// Caller is the explicit identity presented with every contract operation.
// Token, when set, is a bearer token issued by Service.IssueToken.
type Caller struct {
	Identity string
	Token    string
}

func (c Caller) String() string {
	if c.Identity != "" {
		return c.Identity
	}
	if c.Token != "" {
		return "token"
	}
	return "anonymous"
}
