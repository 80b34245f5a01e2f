// Package config loads and validates the dumper's TOML configuration and
// resolves the external storage backend it dumps into.
//
// Grounded on dataWriter's src/config/config.go: same TOML shape
// (common/s3/gcs sub-tables), human-readable sizes resolved with
// units.RAMInBytes (binary multiples: "64MiB" and "64MB" are both
// 64*1024*1024 bytes), and the same storage.ParseBackend/NewWithDefaultOpt
// construction of the ExternalStorage backend.
package config

import (
	"context"
	"strings"

	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/br/pkg/storage"
)

const (
	defaultBytesPerChunk = 64 * units.MiB
	defaultMaxRowsHint   = 1_000_000 // threshold below which Chunker uses the fixed-step algorithm
)

// S3Config configures an S3-compatible output backend.
type S3Config struct {
	Region          string `toml:"region,omitempty"`
	AccessKey       string `toml:"access_key,omitempty"`
	SecretAccessKey string `toml:"secret_key,omitempty"`
	Provider        string `toml:"provider,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"`
	RoleArn         string `toml:"role_arn,omitempty"`
}

// GCSConfig configures a Google Cloud Storage output backend.
type GCSConfig struct {
	Credential string `toml:"credential,omitempty"`
}

// DBConfig names the source MySQL server to dump from.
type DBConfig struct {
	DSN     string `toml:"dsn"`
	Threads int    `toml:"threads"`
}

// CommonConfig holds output-location and dump-wide knobs.
type CommonConfig struct {
	Path              string `toml:"path"`
	Dialect           string `toml:"dialect"` // default|csv|csv_unix|tsv|json
	Compression       string `toml:"compression"`
	BytesPerChunk     string `toml:"bytes_per_chunk"`
	MaxRate           string `toml:"max_rate"` // empty = unlimited
	Consistent        bool   `toml:"consistent"`
	DDLOnly           bool   `toml:"ddl_only"`
	DataOnly          bool   `toml:"data_only"`
	MDSCompatibility  bool   `toml:"mds_compatibility"`
	StripDefiners     bool   `toml:"strip_definers"`
	StripRestricted   bool   `toml:"strip_restricted_grants"`
	StripTablespaces  bool   `toml:"strip_tablespaces"`
	CreateInvisiblePK bool   `toml:"create_invisible_pks"`
	IgnoreMissingPKs  bool   `toml:"ignore_missing_pks"`

	DryRun       bool   `toml:"dry_run"`
	Split        bool   `toml:"split"` // recorded as each table manifest's "chunking" flag; tables with a usable index are chunked whether or not it is set
	Charset      string `toml:"charset"`
	TimeZoneUTC  bool   `toml:"time_zone_utc"`
	UseBase64    bool   `toml:"use_base64"` // TO_BASE64 vs HEX for csv_unsafe columns

	DumpTriggers bool `toml:"dump_triggers"`
	DumpEvents   bool `toml:"dump_events"`
	DumpRoutines bool `toml:"dump_routines"`
	DumpUsers    bool `toml:"dump_users"`

	IncludedUsers []string `toml:"included_users,omitempty"`
	ExcludedUsers []string `toml:"excluded_users,omitempty"`

	// BytesPerChunkResolved/MaxRateResolved are derived at runtime and not
	// read from TOML.
	BytesPerChunkResolved int64 `toml:"-"`
	MaxRateResolved       int64 `toml:"-"`
}

// Config is the top-level dumper configuration.
type Config struct {
	DB        DBConfig   `toml:"db"`
	Common    CommonConfig `toml:"common"`
	S3Config  *S3Config  `toml:"s3,omitempty"`
	GCSConfig *GCSConfig `toml:"gcs,omitempty"`
	Schemas   []string   `toml:"schemas"`
}

// Normalize resolves derived config values after loading from TOML.
func Normalize(cfg *Config) error {
	bytesPerChunk, err := resolveHumanSize(cfg.Common.BytesPerChunk, defaultBytesPerChunk)
	if err != nil {
		return errors.Annotate(err, "common.bytes_per_chunk")
	}
	cfg.Common.BytesPerChunkResolved = bytesPerChunk

	maxRate, err := resolveHumanSize(cfg.Common.MaxRate, 0)
	if err != nil {
		return errors.Annotate(err, "common.max_rate")
	}
	cfg.Common.MaxRateResolved = maxRate

	if cfg.Common.Dialect == "" {
		cfg.Common.Dialect = "default"
	}
	if cfg.Common.Compression == "" {
		cfg.Common.Compression = "none"
	}
	if cfg.Common.Charset == "" {
		cfg.Common.Charset = "utf8mb4"
	}
	return nil
}

func resolveHumanSize(s string, fallback int64) (int64, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if n <= 0 {
		return 0, errors.Errorf("must be greater than 0, got %q", s)
	}
	return n, nil
}

// Validate returns a user-friendly error if the configuration is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.DB.DSN == "" {
		errs = append(errs, "db.dsn is required")
	}
	if cfg.Common.Path == "" {
		errs = append(errs, "common.path is required")
	}

	switch strings.ToLower(cfg.Common.Dialect) {
	case "default", "csv", "csv_unix", "tsv", "json":
	default:
		errs = append(errs, "common.dialect must be one of default|csv|csv_unix|tsv|json")
	}

	switch strings.ToLower(cfg.Common.Compression) {
	case "none", "gzip", "zstd":
	default:
		errs = append(errs, "common.compression must be one of none|gzip|zstd")
	}

	if cfg.Common.DDLOnly && cfg.Common.DataOnly {
		errs = append(errs, "common.ddl_only and common.data_only are mutually exclusive")
	}

	if cfg.S3Config != nil && cfg.GCSConfig != nil {
		errs = append(errs, "only one of [s3] or [gcs] can be configured")
	}

	if len(errs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("invalid config:\n")
	for _, e := range errs {
		sb.WriteString(" - ")
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	return errors.New(strings.TrimRight(sb.String(), "\n"))
}

// GetStore initializes an ExternalStorage backend (local disk, S3, or GCS)
// from the configured output path.
func GetStore(c *Config) (storage.ExternalStorage, error) {
	var op *storage.BackendOptions
	if c.S3Config != nil {
		op = &storage.BackendOptions{S3: storage.S3BackendOptions{
			Region:          c.S3Config.Region,
			AccessKey:       c.S3Config.AccessKey,
			SecretAccessKey: c.S3Config.SecretAccessKey,
			Provider:        c.S3Config.Provider,
			Endpoint:        c.S3Config.Endpoint,
			RoleARN:         c.S3Config.RoleArn,
		}}
	} else if c.GCSConfig != nil {
		op = &storage.BackendOptions{GCS: storage.GCSBackendOptions{
			CredentialsFile: c.GCSConfig.Credential,
		}}
	}

	s, err := storage.ParseBackend(c.Common.Path, op)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return storage.NewWithDefaultOpt(context.Background(), s)
}
