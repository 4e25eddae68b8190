package models

const AppStateNormal = "normal"

// Application is one (user, app) pair seen by the vault.
type Application struct {
	UserDID      string
	AppDID       string
	DatabaseName string
	AccessCount  int64
	AccessAmount int64
	AccessLastAt int64
	State        string
	CreatedAt    int64
}
