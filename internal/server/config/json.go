package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/flagx"
)

// Duration accepts both "90s"-style strings and integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// JsonConfig is the DTO read from the -c/-config file. It starts as a copy
// of the current Config, so keys missing from the file keep their values.
type JsonConfig struct {
	HTTPAddr       string `json:"http_addr"`
	BaseURL        string `json:"base_url"`
	DatabaseDSN    string `json:"database_dsn"`
	StorageBackend string `json:"storage_backend"`
	ObjectStore    string `json:"object_store"`
	IPFSAPIURL     string `json:"ipfs_api_url"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	S3Prefix       string `json:"s3_prefix"`

	DataDir        string `json:"data_dir"`
	DIDStoreDir    string `json:"did_store_dir"`
	DIDResolverURL string `json:"did_resolver_url"`

	AccessTokenValidityDuration Duration `json:"access_token_validity_duration"`
	ChallengeValidityDuration   Duration `json:"challenge_validity_duration"`
	TransactionValidityDuration Duration `json:"transaction_validity_duration"`

	ShortDatabaseNames bool   `json:"short_database_names"`
	PricingPlansFile   string `json:"pricing_plans_file"`
	EnforceQuota       bool   `json:"enforce_quota"`

	LogFormat string `json:"log_format"`
	LogLevel  string `json:"log_level"`

	WorkerPoolSize  int     `json:"worker_pool_size"`
	SigninRateLimit float64 `json:"signin_rate_limit"`
	SigninRateBurst int     `json:"signin_rate_burst"`

	BackupPushTimeout  Duration `json:"backup_push_timeout"`
	BackupPollTimeout  Duration `json:"backup_poll_timeout"`
	BackupPollInterval Duration `json:"backup_poll_interval"`
	RecoveryDelay      Duration `json:"recovery_delay"`
	AuthPurgeInterval  Duration `json:"auth_purge_interval"`

	NodeName        string `json:"node_name"`
	NodeEmail       string `json:"node_email"`
	NodeDescription string `json:"node_description"`
	OwnerDID        string `json:"owner_did"`
}

func toJsonConfig(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:                    c.HTTPAddr,
		BaseURL:                     c.BaseURL,
		DatabaseDSN:                 c.DatabaseDSN,
		StorageBackend:              c.StorageBackend,
		ObjectStore:                 c.ObjectStore,
		IPFSAPIURL:                  c.IPFSAPIURL,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		S3Prefix:                    c.S3Prefix,
		DataDir:                     c.DataDir,
		DIDStoreDir:                 c.DIDStoreDir,
		DIDResolverURL:              c.DIDResolverURL,
		AccessTokenValidityDuration: Duration{c.AccessTokenValidityDuration},
		ChallengeValidityDuration:   Duration{c.ChallengeValidityDuration},
		TransactionValidityDuration: Duration{c.TransactionValidityDuration},
		ShortDatabaseNames:          c.ShortDatabaseNames,
		PricingPlansFile:            c.PricingPlansFile,
		EnforceQuota:                c.EnforceQuota,
		LogFormat:                   c.LogFormat,
		LogLevel:                    c.LogLevel,
		WorkerPoolSize:              c.WorkerPoolSize,
		SigninRateLimit:             c.SigninRateLimit,
		SigninRateBurst:             c.SigninRateBurst,
		BackupPushTimeout:           Duration{c.BackupPushTimeout},
		BackupPollTimeout:           Duration{c.BackupPollTimeout},
		BackupPollInterval:          Duration{c.BackupPollInterval},
		RecoveryDelay:               Duration{c.RecoveryDelay},
		AuthPurgeInterval:           Duration{c.AuthPurgeInterval},
		NodeName:                    c.NodeName,
		NodeEmail:                   c.NodeEmail,
		NodeDescription:             c.NodeDescription,
		OwnerDID:                    c.OwnerDID,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.BaseURL = j.BaseURL
	c.DatabaseDSN = j.DatabaseDSN
	c.StorageBackend = j.StorageBackend
	c.ObjectStore = j.ObjectStore
	c.IPFSAPIURL = j.IPFSAPIURL
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.S3Prefix = j.S3Prefix
	c.DataDir = j.DataDir
	c.DIDStoreDir = j.DIDStoreDir
	c.DIDResolverURL = j.DIDResolverURL
	c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	c.ChallengeValidityDuration = j.ChallengeValidityDuration.Duration
	c.TransactionValidityDuration = j.TransactionValidityDuration.Duration
	c.ShortDatabaseNames = j.ShortDatabaseNames
	c.PricingPlansFile = j.PricingPlansFile
	c.EnforceQuota = j.EnforceQuota
	c.LogFormat = j.LogFormat
	c.LogLevel = j.LogLevel
	c.WorkerPoolSize = j.WorkerPoolSize
	c.SigninRateLimit = j.SigninRateLimit
	c.SigninRateBurst = j.SigninRateBurst
	c.BackupPushTimeout = j.BackupPushTimeout.Duration
	c.BackupPollTimeout = j.BackupPollTimeout.Duration
	c.BackupPollInterval = j.BackupPollInterval.Duration
	c.RecoveryDelay = j.RecoveryDelay.Duration
	c.AuthPurgeInterval = j.AuthPurgeInterval.Duration
	c.NodeName = j.NodeName
	c.NodeEmail = j.NodeEmail
	c.NodeDescription = j.NodeDescription
	c.OwnerDID = j.OwnerDID
}

// parseJson overlays the file named by -c/-config, if any. A missing or
// malformed file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJsonConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(fmt.Errorf("%s: %w", jsonConfigFile, err))
	}
	c.apply(config)
}
