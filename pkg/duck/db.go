// Package duck wraps an in-process DuckDB used to read and write Parquet and CSV
// tables on local disk or S3.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

type DB interface {
	Catalog() string
	Schema() string
	Close() error
	Conn(ctx context.Context) (Connection, error)
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type duckDB struct {
	dbPath  string
	db      *sql.DB
	catalog string
	schema  string
}

type duckDBConn struct {
	conn    *sql.Conn
	db      *duckDB
	writeMu sync.Mutex // serializes all write operations
}

// NewDB opens a DuckDB database at dbPath (empty for in-memory). When s3Config is
// non-nil the httpfs and aws extensions are loaded and an S3 secret is created so
// s3:// paths can be read and written.
func NewDB(ctx context.Context, dbPath string, log *slog.Logger, s3Config *S3Config) (*duckDB, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	row := db.QueryRowContext(ctx, "SELECT current_database() AS catalog, current_schema() AS schema")
	var catalog, schema string
	if err := row.Scan(&catalog, &schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get current database and schema: %w", err)
	}

	if s3Config != nil {
		if err := configureS3(ctx, db, s3Config); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("duck: configured S3 storage", "endpoint", s3Config.Endpoint, "region", s3Config.Region)
	}

	return &duckDB{
		dbPath:  dbPath,
		db:      db,
		catalog: catalog,
		schema:  schema,
	}, nil
}

func configureS3(ctx context.Context, db *sql.DB, cfg *S3Config) error {
	for _, ext := range []string{"httpfs", "aws"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL '%s'", ext)); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("LOAD '%s'", ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}
	if _, err := db.ExecContext(ctx, s3SecretSQL(cfg)); err != nil {
		return fmt.Errorf("failed to create S3 secret: %w", err)
	}
	return nil
}

// s3SecretSQL builds the CREATE SECRET statement. Without explicit keys the
// default AWS credential chain is used.
func s3SecretSQL(cfg *S3Config) string {
	var sb strings.Builder
	sb.WriteString("CREATE SECRET IF NOT EXISTS s3_secret (TYPE s3")
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		fmt.Fprintf(&sb, ", KEY_ID %s", quoteLiteral(cfg.AccessKeyID))
		fmt.Fprintf(&sb, ", SECRET %s", quoteLiteral(cfg.SecretAccessKey))
	} else {
		sb.WriteString(", PROVIDER credential_chain")
	}
	if cfg.Endpoint != "" {
		// DuckDB expects host:port without a scheme.
		endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		fmt.Fprintf(&sb, ", ENDPOINT %s", quoteLiteral(endpoint))
	}
	if cfg.Region != "" {
		fmt.Fprintf(&sb, ", REGION %s", quoteLiteral(cfg.Region))
	}
	urlStyle := cfg.URLStyle
	if urlStyle == "" {
		urlStyle = "path"
	}
	useSSL := cfg.UseSSL
	if cfg.isMinIO() {
		useSSL = false
	} else if cfg.Endpoint == "" {
		useSSL = true
	}
	fmt.Fprintf(&sb, ", URL_STYLE %s, USE_SSL %t)", quoteLiteral(urlStyle), useSSL)
	return sb.String()
}

func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "USE "+quoteIdent(d.catalog)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to use database: %w", err)
	}

	return &duckDBConn{
		conn: conn,
		db:   d,
	}, nil
}

func (d *duckDB) Catalog() string {
	return d.catalog
}

func (d *duckDB) Schema() string {
	return d.schema
}

func (d *duckDB) Close() error {
	return d.db.Close()
}

func (c *duckDBConn) DB() DB {
	return c.db
}

func (c *duckDBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.ExecContext(ctx, query, args...)
}

func (c *duckDBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckDBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckDBConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.conn.BeginTx(ctx, opts)
}

func (c *duckDBConn) Close() error {
	return c.conn.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
