package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// envFile is the optional dotenv file read before the environment.
var envFile = ".env"

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(p func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *p(c) = v; return nil }
}

func boolean(p func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p(c) = b
		return nil
	}
}

func integer(p func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p(c) = n
		return nil
	}
}

func duration(p func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"HIVE_HTTP_ADDR", str(func(c *Config) *string { return &c.HTTPAddr })},
	{"HIVE_BASE_URL", str(func(c *Config) *string { return &c.BaseURL })},
	{"HIVE_DATABASE_DSN", str(func(c *Config) *string { return &c.DatabaseDSN })},
	{"HIVE_STORAGE_BACKEND", str(func(c *Config) *string { return &c.StorageBackend })},
	{"HIVE_OBJECT_STORE", str(func(c *Config) *string { return &c.ObjectStore })},
	{"HIVE_IPFS_API_URL", str(func(c *Config) *string { return &c.IPFSAPIURL })},
	{"HIVE_S3_ROOT_USER", str(func(c *Config) *string { return &c.S3RootUser })},
	{"HIVE_S3_ROOT_PASSWORD", str(func(c *Config) *string { return &c.S3RootPassword })},
	{"HIVE_S3_BUCKET", str(func(c *Config) *string { return &c.S3Bucket })},
	{"HIVE_S3_REGION", str(func(c *Config) *string { return &c.S3Region })},
	{"HIVE_S3_BASE_ENDPOINT", str(func(c *Config) *string { return &c.S3BaseEndpoint })},
	{"HIVE_S3_PREFIX", str(func(c *Config) *string { return &c.S3Prefix })},
	{"HIVE_DATA_DIR", str(func(c *Config) *string { return &c.DataDir })},
	{"HIVE_DID_STORE_DIR", str(func(c *Config) *string { return &c.DIDStoreDir })},
	{"HIVE_DID_RESOLVER_URL", str(func(c *Config) *string { return &c.DIDResolverURL })},
	{"HIVE_ACCESS_TOKEN_TTL", duration(func(c *Config) *time.Duration { return &c.AccessTokenValidityDuration })},
	{"HIVE_CHALLENGE_TTL", duration(func(c *Config) *time.Duration { return &c.ChallengeValidityDuration })},
	{"HIVE_TRANSACTION_TTL", duration(func(c *Config) *time.Duration { return &c.TransactionValidityDuration })},
	{"HIVE_SHORT_DATABASE_NAMES", boolean(func(c *Config) *bool { return &c.ShortDatabaseNames })},
	{"HIVE_PRICING_PLANS_FILE", str(func(c *Config) *string { return &c.PricingPlansFile })},
	{"HIVE_ENFORCE_QUOTA", boolean(func(c *Config) *bool { return &c.EnforceQuota })},
	{"HIVE_LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
	{"HIVE_LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"HIVE_WORKER_POOL_SIZE", integer(func(c *Config) *int { return &c.WorkerPoolSize })},
	{"HIVE_OWNER_DID", str(func(c *Config) *string { return &c.OwnerDID })},
	{"HIVE_NODE_NAME", str(func(c *Config) *string { return &c.NodeName })},
	{"HIVE_NODE_EMAIL", str(func(c *Config) *string { return &c.NodeEmail })},
}

// parseEnv loads the optional .env file into the process environment (it
// never overrides variables that are already set) and then applies every
// HIVE_* variable. A malformed value panics, like an unreadable JSON file.
func parseEnv(config *Config) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(config, v); err != nil {
			panic(errors.Join(errors.New(b.name), err))
		}
	}
}
