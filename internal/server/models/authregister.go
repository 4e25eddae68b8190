package models

// AuthRegister tracks a sign-in conversation of one app instance: the
// outstanding nonce and, once authenticated, the issued token.
type AuthRegister struct {
	AppInstanceDID string
	Nonce          string
	NonceExpiresAt int64
	UserDID        string
	AppDID         string
	Token          string
	TokenExpiresAt int64
	CreatedAt      int64
	UpdatedAt      int64
}
