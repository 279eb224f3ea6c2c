package models

// Identity is an authenticated user and the bearer credential issued for them
type Identity struct {
	Username   string
	Credential string
}

// WaitingUser is a user currently available to be challenged
type WaitingUser struct {
	Username string `json:"username"`
}
