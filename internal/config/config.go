// Package config assembles the run configuration for the loader from the
// process environment and command-line parameters.
//
// Environment variables are collected once at startup by FromEnv. Every
// required key that is missing is reported together in a single
// *MissingEnvError, so an operator can fix the environment in one pass. The
// rest of the program only ever sees the validated Env value; nothing below
// cmd/ reads the environment directly.
//
// Required:
//
//	SRC_BASE_DIR  base directory (or s3://bucket/prefix) holding <dataset>/part-* files
//	DB_USER, DB_PASS, DB_HOST, DB_PORT, DB_NAME
//
// Optional:
//
//	DB_KIND           storage backend: postgres (default), mssql, mysql, sqlite
//	DB_TABLE_PREFIX   prepended to the dataset name to form the table name
//	DB_TABLE_SUFFIX   appended to the dataset name to form the table name
//	SRC_FILE_PATTERN  glob applied to file names inside a dataset directory (default part-*)
//	SCHEMA_PATH       schema document (default $SRC_BASE_DIR/schemas.json)
//	S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_REGION, S3_USE_SSL
//	METRICS_BACKEND, PUSHGATEWAY_URL, DOGSTATSD_ADDR
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvSourceBaseDir = "SRC_BASE_DIR"
	EnvDBUser        = "DB_USER"
	EnvDBPass        = "DB_PASS"
	EnvDBHost        = "DB_HOST"
	EnvDBPort        = "DB_PORT"
	EnvDBName        = "DB_NAME"

	EnvDBKind        = "DB_KIND"
	EnvDBTablePrefix = "DB_TABLE_PREFIX"
	EnvDBTableSuffix = "DB_TABLE_SUFFIX"
	EnvFilePattern   = "SRC_FILE_PATTERN"
	EnvSchemaPath    = "SCHEMA_PATH"

	EnvS3Endpoint  = "S3_ENDPOINT"
	EnvS3AccessKey = "S3_ACCESS_KEY"
	EnvS3SecretKey = "S3_SECRET_KEY"
	EnvS3Region    = "S3_REGION"
	EnvS3UseSSL    = "S3_USE_SSL"

	EnvMetricsBackend = "METRICS_BACKEND"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
	EnvDogStatsDAddr  = "DOGSTATSD_ADDR"
)

// RequiredEnv lists the keys FromEnv insists on, in reporting order.
var RequiredEnv = []string{
	EnvSourceBaseDir,
	EnvDBUser,
	EnvDBPass,
	EnvDBHost,
	EnvDBPort,
	EnvDBName,
}

const (
	DefaultDBKind      = "postgres"
	DefaultFilePattern = "part-*"
	DefaultSchemaFile  = "schemas.json"
	DefaultS3Region    = "us-east-1"

	objectStoreScheme = "s3://"
)

// LookupFunc matches os.LookupEnv. Tests pass a map-backed implementation.
type LookupFunc func(key string) (string, bool)

// Env is the validated environment configuration.
type Env struct {
	SourceBaseDir string
	FilePattern   string
	SchemaPath    string

	DB          DBConfig
	ObjectStore ObjectStore
	Metrics     Metrics
}

// DBConfig holds destination connection parameters.
type DBConfig struct {
	Kind     string
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	TablePrefix string
	TableSuffix string
}

// TableFor returns the destination table for a dataset.
func (d DBConfig) TableFor(dataset string) string {
	return d.TablePrefix + dataset + d.TableSuffix
}

// String renders the connection target without the password, for logs.
func (d DBConfig) String() string {
	return fmt.Sprintf("%s://%s@%s:%d/%s", d.Kind, d.User, d.Host, d.Port, d.Name)
}

// ObjectStore holds S3/MinIO credentials, used only when SourceBaseDir is an
// s3:// URL.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Metrics selects the optional metrics backend.
type Metrics struct {
	Backend        string
	PushgatewayURL string
	DogStatsDAddr  string
}

// UsesObjectStore reports whether the source base is an s3:// URL.
func (e Env) UsesObjectStore() bool {
	return strings.HasPrefix(e.SourceBaseDir, objectStoreScheme)
}

// MissingEnvError lists every required environment variable that was unset
// or empty.
type MissingEnvError struct {
	Keys []string
}

func (e *MissingEnvError) Error() string {
	if len(e.Keys) == 1 {
		return fmt.Sprintf("missing environment variable %s", e.Keys[0])
	}
	return fmt.Sprintf("missing environment variables %s", strings.Join(e.Keys, ", "))
}

// FromProcessEnv is FromEnv(os.LookupEnv).
func FromProcessEnv() (Env, error) { return FromEnv(os.LookupEnv) }

// FromEnv collects and validates the environment. A *MissingEnvError is
// returned when required keys are absent; an *IssuesError when values are
// present but invalid.
func FromEnv(lookup LookupFunc) (Env, error) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}
	getDef := func(key, def string) string {
		if v := get(key); v != "" {
			return v
		}
		return def
	}

	var missing []string
	for _, k := range RequiredEnv {
		if get(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return Env{}, &MissingEnvError{Keys: missing}
	}

	var issues []Issue

	port, portErr := strconv.Atoi(get(EnvDBPort))
	if portErr != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvDBPort,
			Message:  fmt.Sprintf("DB_PORT must be an integer, got %q", get(EnvDBPort)),
		})
	}

	useSSL := false
	if v := get(EnvS3UseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     EnvS3UseSSL,
				Message:  fmt.Sprintf("S3_USE_SSL must be a boolean, got %q", v),
			})
		}
		useSSL = b
	}

	base := get(EnvSourceBaseDir)
	env := Env{
		SourceBaseDir: base,
		FilePattern:   getDef(EnvFilePattern, DefaultFilePattern),
		SchemaPath:    getDef(EnvSchemaPath, defaultSchemaPath(base)),
		DB: DBConfig{
			Kind:        strings.ToLower(getDef(EnvDBKind, DefaultDBKind)),
			Host:        get(EnvDBHost),
			Port:        port,
			Name:        get(EnvDBName),
			User:        get(EnvDBUser),
			Password:    get(EnvDBPass),
			TablePrefix: get(EnvDBTablePrefix),
			TableSuffix: get(EnvDBTableSuffix),
		},
		ObjectStore: ObjectStore{
			Endpoint:  get(EnvS3Endpoint),
			AccessKey: get(EnvS3AccessKey),
			SecretKey: get(EnvS3SecretKey),
			Region:    getDef(EnvS3Region, DefaultS3Region),
			UseSSL:    useSSL,
		},
		Metrics: Metrics{
			Backend:        get(EnvMetricsBackend),
			PushgatewayURL: get(EnvPushgatewayURL),
			DogStatsDAddr:  get(EnvDogStatsDAddr),
		},
	}

	if portErr == nil {
		issues = append(issues, ValidateEnv(env)...)
	}
	if HasErrors(issues) {
		return Env{}, &IssuesError{Issues: issues}
	}
	return env, nil
}

// defaultSchemaPath places schemas.json at the root of the source base,
// whether that is a directory or an object-store prefix.
func defaultSchemaPath(base string) string {
	if strings.HasPrefix(base, objectStoreScheme) {
		return strings.TrimSuffix(base, "/") + "/" + DefaultSchemaFile
	}
	return filepath.Join(base, DefaultSchemaFile)
}
