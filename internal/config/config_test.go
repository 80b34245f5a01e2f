package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		DB:     DBConfig{DSN: "root:@tcp(127.0.0.1:3306)/", Threads: 4},
		Common: CommonConfig{Path: "/tmp/out", Dialect: "csv", Compression: "none"},
	}
}

func TestValidateRequiresDSNAndPath(t *testing.T) {
	cfg := Config{}
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected an error for empty config")
	}
	if !strings.Contains(err.Error(), "db.dsn is required") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
	if !strings.Contains(err.Error(), "common.path is required") {
		t.Fatalf("expected missing path error, got %v", err)
	}
}

func TestValidateRejectsUnknownDialectAndCompression(t *testing.T) {
	cfg := validConfig()
	cfg.Common.Dialect = "xml"
	cfg.Common.Compression = "brotli"
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "common.dialect must be one of") {
		t.Fatalf("expected dialect error, got %v", err)
	}
	if !strings.Contains(err.Error(), "common.compression must be one of") {
		t.Fatalf("expected compression error, got %v", err)
	}
}

func TestValidateRejectsDDLOnlyAndDataOnlyTogether(t *testing.T) {
	cfg := validConfig()
	cfg.Common.DDLOnly = true
	cfg.Common.DataOnly = true
	if err := Validate(&cfg); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual exclusivity error, got %v", err)
	}
}

func TestValidateRejectsBothS3AndGCS(t *testing.T) {
	cfg := validConfig()
	cfg.S3Config = &S3Config{Region: "us-east-1"}
	cfg.GCSConfig = &GCSConfig{Credential: "creds.json"}
	if err := Validate(&cfg); err == nil || !strings.Contains(err.Error(), "only one of [s3] or [gcs]") {
		t.Fatalf("expected s3/gcs conflict error, got %v", err)
	}
}

func TestValidateAcceptsAWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{Common: CommonConfig{Path: "/tmp/out"}}
	if err := Normalize(&cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Common.Dialect != "default" {
		t.Fatalf("Dialect = %q, want default", cfg.Common.Dialect)
	}
	if cfg.Common.Compression != "none" {
		t.Fatalf("Compression = %q, want none", cfg.Common.Compression)
	}
	if cfg.Common.Charset != "utf8mb4" {
		t.Fatalf("Charset = %q, want utf8mb4", cfg.Common.Charset)
	}
	if cfg.Common.BytesPerChunkResolved != defaultBytesPerChunk {
		t.Fatalf("BytesPerChunkResolved = %d, want %d", cfg.Common.BytesPerChunkResolved, defaultBytesPerChunk)
	}
	if cfg.Common.MaxRateResolved != 0 {
		t.Fatalf("MaxRateResolved = %d, want 0 (unlimited)", cfg.Common.MaxRateResolved)
	}
}

func TestNormalizeResolvesHumanSizes(t *testing.T) {
	cfg := Config{Common: CommonConfig{Path: "/tmp/out", BytesPerChunk: "128MiB", MaxRate: "10MiB"}}
	if err := Normalize(&cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Common.BytesPerChunkResolved != 128*1024*1024 {
		t.Fatalf("BytesPerChunkResolved = %d, want %d", cfg.Common.BytesPerChunkResolved, 128*1024*1024)
	}
	if cfg.Common.MaxRateResolved != 10*1024*1024 {
		t.Fatalf("MaxRateResolved = %d, want %d", cfg.Common.MaxRateResolved, 10*1024*1024)
	}
}

func TestNormalizeRejectsZeroHumanSize(t *testing.T) {
	cfg := Config{Common: CommonConfig{Path: "/tmp/out", BytesPerChunk: "0MiB"}}
	if err := Normalize(&cfg); err == nil {
		t.Fatal("expected an error for a zero-sized bytes_per_chunk")
	}
}

func TestGetStoreBuildsALocalBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Common.Path = t.TempDir()
	store, err := GetStore(&cfg)
	if err != nil {
		t.Fatalf("GetStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
}
