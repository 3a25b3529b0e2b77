// Package postgres implements a Postgres repository using pgx v5. Rows are
// streamed with COPY ... FROM STDIN in CSV format over a single connection,
// so the server parses every value into the column's type.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dsload/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN string // postgresql:// URL or keyword/value string
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	conn *pgx.Conn
}

// NewRepository connects and pings, returning a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx connect: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(context.Background())
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = conn.Close(context.Background()) }
	return &Repository{conn: conn}, closeFn, nil
}

// DSN builds a postgresql:// URL from discrete settings. cfg.DSN wins when
// set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(int(cfg.Timeout().Seconds())))
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// CopyFrom streams rows into table with a single COPY statement. COPY is
// atomic: on error nothing from this call is visible.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: CopyFrom: columns must not be empty")
	}

	sql := fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv)",
		pgFQN(table), strings.Join(mapIdent(columns), ","))

	tag, err := r.conn.PgConn().CopyFrom(ctx, bytes.NewReader(encodeCSV(rows)), sql)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("copy into %s: %w (%s)", table, err, pgErr.Detail)
		}
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error { return r.conn.Ping(ctx) }

// IsConnectivityError recognizes lost-connection failures: a closed
// connection, a connect error, a network timeout, or a server error in
// SQLSTATE class 08 (connection exception) or 57P0x (operator intervention).
func (r *Repository) IsConnectivityError(err error) bool {
	if r.conn != nil && r.conn.IsClosed() {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return false
}

// encodeCSV renders rows in PostgreSQL's CSV COPY format. nil is written as
// an unquoted empty field (NULL); every other value is quoted, so "" stays an
// empty string.
func encodeCSV(rows [][]any) []byte {
	var b bytes.Buffer
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			if v == nil {
				continue
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(toString(v), `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// toString converts values to their text representation.
func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.orders" to
// "public"."orders". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
