package domain

// User is the account returned by the backend on login.
type User struct {
	ID      string         `json:"id"`
	Email   string         `json:"email"`
	Profile map[string]any `json:"profile,omitempty"`
}

// LoginRequest is the login endpoint body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the login endpoint response.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	User        *User  `json:"user,omitempty"`
}
