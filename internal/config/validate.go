package config

import (
	"fmt"
	"path"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not block
	// execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path names the offending item: an environment variable (e.g. "DB_PORT") or
// a run parameter (e.g. "chunk_size").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// IssuesError bundles the blocking issues of a validation pass.
type IssuesError struct {
	Issues []Issue
}

func (e *IssuesError) Error() string {
	var msgs []string
	for _, iss := range e.Issues {
		if iss.Severity == SeverityError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", iss.Path, iss.Message))
		}
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateEnv performs static checks over an assembled Env. Presence of the
// required keys is checked earlier by FromEnv.
func ValidateEnv(e Env) []Issue {
	var issues []Issue

	known := map[string]struct{}{
		"postgres": {},
		"mssql":    {},
		"mysql":    {},
		"sqlite":   {},
	}
	if _, ok := known[e.DB.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvDBKind,
			Message:  fmt.Sprintf("unknown storage kind %q; expected postgres, mssql, mysql or sqlite", e.DB.Kind),
		})
	}

	if e.DB.Port < 1 || e.DB.Port > 65535 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvDBPort,
			Message:  fmt.Sprintf("DB_PORT must be between 1 and 65535, got %d", e.DB.Port),
		})
	}

	if _, err := path.Match(e.FilePattern, ""); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvFilePattern,
			Message:  fmt.Sprintf("invalid glob %q: %v", e.FilePattern, err),
		})
	}

	if e.UsesObjectStore() {
		issues = append(issues, validateObjectStore(e)...)
	}

	switch e.Metrics.Backend {
	case "", "none":
	case "pushgateway":
		if e.Metrics.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     EnvPushgatewayURL,
				Message:  "pushgateway backend selected without PUSHGATEWAY_URL; the default will be used",
			})
		}
	case "datadog":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     EnvMetricsBackend,
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", e.Metrics.Backend),
		})
	}

	return issues
}

func validateObjectStore(e Env) []Issue {
	var issues []Issue

	bucket := strings.TrimPrefix(e.SourceBaseDir, objectStoreScheme)
	if i := strings.IndexByte(bucket, '/'); i >= 0 {
		bucket = bucket[:i]
	}
	if bucket == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvSourceBaseDir,
			Message:  "s3:// source base must name a bucket",
		})
	}

	store := e.ObjectStore
	required := []struct {
		key, val string
	}{
		{EnvS3Endpoint, store.Endpoint},
		{EnvS3AccessKey, store.AccessKey},
		{EnvS3SecretKey, store.SecretKey},
	}
	for _, r := range required {
		if r.val == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     r.key,
				Message:  fmt.Sprintf("%s is required when %s is an s3:// URL", r.key, EnvSourceBaseDir),
			})
		}
	}
	if strings.Contains(store.Endpoint, "://") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     EnvS3Endpoint,
			Message:  fmt.Sprintf("endpoint must not include scheme: %q", store.Endpoint),
		})
	}
	return issues
}

// DefaultChunkSize is the number of rows per chunk when none is given.
const DefaultChunkSize = 10000

// Run holds the per-invocation parameters supplied on the command line.
type Run struct {
	// Datasets are processed in order; duplicates are processed again.
	Datasets []string
	// All loads every dataset of the schema document in document order.
	All       bool
	ChunkSize int
}

// ValidateRun checks command-line parameters.
func ValidateRun(r Run) []Issue {
	var issues []Issue

	if r.ChunkSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "chunk_size",
			Message:  fmt.Sprintf("chunk size must be a positive integer, got %d", r.ChunkSize),
		})
	}

	switch {
	case r.All && len(r.Datasets) > 0:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "datasets",
			Message:  "dataset names are ignored when all datasets are requested",
		})
	case !r.All && len(r.Datasets) == 0:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "datasets",
			Message:  "at least one dataset name is required",
		})
	}

	for i, d := range r.Datasets {
		if strings.TrimSpace(d) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("datasets[%d]", i),
				Message:  "dataset name must not be empty",
			})
			continue
		}
		if strings.ContainsAny(d, `/\`) || d == "." || d == ".." {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("datasets[%d]", i),
				Message:  fmt.Sprintf("dataset name %q must not contain path separators", d),
			})
		}
	}

	return issues
}
