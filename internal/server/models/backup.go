package models

const (
	BackupActionBackup  = "backup"
	BackupActionRestore = "restore"

	BackupStateStop    = "stop"
	BackupStateProcess = "process"
	BackupStateSuccess = "success"
	BackupStateFailed  = "failed"
)

// Backup is the client-side state of the last backup or restore of a vault.
// ProgressMsg holds a percentage while processing and the error on failure.
type Backup struct {
	UserDID     string
	Action      string
	State       string
	ProgressMsg string
	TargetHost  string
	TargetDID   string
	TargetToken string
	CreatedAt   int64
	UpdatedAt   int64
}

// BackupService is the server-side subscription of a user on a backup node.
// Req* describe the last manifest received; Held* describe the manifest
// whose blobs and file references this node currently holds.
type BackupService struct {
	UserDID       string
	PlanName      string
	QuotaBytes    int64
	UsedBytes     int64
	StartedAt     int64
	EndsAt        int64
	Action        string
	State         string
	ProgressMsg   string
	ReqCID        string
	ReqSHA256     string
	ReqSize       int64
	ReqPublicKey  string
	HeldCID       string
	HeldSHA256    string
	HeldSize      int64
	HeldPublicKey string
	CreatedAt     int64
	UpdatedAt     int64
}
