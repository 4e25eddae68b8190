package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/flagx"
)

var knownFlags = []string{
	"-a", "-url", "-d", "-storage", "-objects", "-ipfs",
	"-u", "-p", "-b", "-g", "-e",
	"-data", "-didstore", "-resolver", "-t", "-plans",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string         HTTP listen address (e.g. ":5000")
//	-url string       public base URL of this node
//	-d string         PostgreSQL DSN
//	-storage string   postgres | memory
//	-objects string   ipfs | s3 | memory
//	-ipfs string      kubo RPC API URL
//	-u/-p/-b/-g/-e    S3 user, password, bucket, region, endpoint
//	-data string      data directory
//	-didstore string  DID store directory
//	-resolver string  universal resolver URL
//	-t int            access token validity, minutes
//	-plans string     pricing plans YAML file
//
// os.Args is filtered with flagx.FilterArgs first so -c/-config and other
// components' flags do not collide.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.BaseURL, "url", config.BaseURL, "public base URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageBackend, "storage", config.StorageBackend, "storage backend")
	fs.StringVar(&config.ObjectStore, "objects", config.ObjectStore, "object store")
	fs.StringVar(&config.IPFSAPIURL, "ipfs", config.IPFSAPIURL, "IPFS API URL")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.DataDir, "data", config.DataDir, "data directory")
	fs.StringVar(&config.DIDStoreDir, "didstore", config.DIDStoreDir, "DID store directory")
	fs.StringVar(&config.DIDResolverURL, "resolver", config.DIDResolverURL, "DID resolver URL")
	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	fs.StringVar(&config.PricingPlansFile, "plans", config.PricingPlansFile, "pricing plans file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only an explicit -t overrides, so sub-minute values from other sources survive
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		}
	})
}
