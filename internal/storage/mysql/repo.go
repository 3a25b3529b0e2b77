// Package mysql implements a MySQL-backed storage.Repository using
// go-sql-driver/mysql. Each CopyFrom runs multi-row INSERT statements inside
// one transaction.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"dsload/internal/storage"
)

// maxPlaceholders is MySQL's prepared statement parameter limit.
const maxPlaceholders = 65535

// maxRowsPerInsert caps statement size independently of column count.
const maxRowsPerInsert = 1000

// Config holds MySQL repository configuration.
type Config struct {
	DSN string // go-sql-driver DSN: user:pass@tcp(host:port)/db
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a single-connection pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db}, closeFn, nil
}

// DSN builds a go-sql-driver DSN from discrete settings. cfg.DSN wins when
// set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.Timeout = cfg.Timeout()
	return mc.FormatDSN()
}

// CopyFrom inserts rows into table within one transaction, batching rows into
// multi-row INSERT statements.
func (r *Repository) CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("mysql: CopyFrom: columns must not be empty")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	perStmt := min(maxRowsPerInsert, max(1, maxPlaceholders/len(columns)))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	var inserted int64
	for start := 0; start < len(rows); start += perStmt {
		batch := rows[start:min(start+perStmt, len(rows))]
		query, args := buildInsert(table, columns, batch)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			rollback()
			return 0, fmt.Errorf("insert rows %d-%d: %w", start, start+len(batch)-1, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// buildInsert renders INSERT INTO t (c1,c2) VALUES (?,?),(?,?) for batch.
func buildInsert(table string, columns []string, batch [][]any) (string, []any) {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(myFQN(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(myIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(batch)*len(columns))
	for i, row := range batch {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

// Ping checks the connection.
func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Server error numbers that mean the session is gone.
var lostConnectionErrors = map[uint16]struct{}{
	1053: {}, // server shutdown in progress
	1152: {}, // aborted connection
	1153: {}, // packet too large, connection dropped
	1927: {}, // connection killed
	2006: {}, // server has gone away
	2013: {}, // lost connection during query
}

// IsConnectivityError recognizes the driver's invalid-connection error and
// the server error numbers above.
func (r *Repository) IsConnectivityError(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		_, ok := lostConnectionErrors[me.Number]
		return ok
	}
	return false
}

func myIdent(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

// myFQN quotes "db.table" as `db`.`table`.
func myFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = myIdent(p)
	}
	return strings.Join(parts, ".")
}
