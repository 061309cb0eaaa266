package dbverify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds the grid database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Timeout bounds the TCP dial. Zero means the driver default.
	Timeout time.Duration
}

// DefaultConfig matches a stock VergeGrid MySQL install.
func DefaultConfig() Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     3306,
		User:     "root",
		Password: "",
		Database: "robust",
		Timeout:  5 * time.Second,
	}
}

// DSN renders the driver connection string.
func (c Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	if c.Timeout > 0 {
		mc.Timeout = c.Timeout
	}
	return mc.FormatDSN()
}

// Addr returns host:port for log lines.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MySQLChecker verifies the Robust schema over a live MySQL connection.
type MySQLChecker struct {
	cfg    Config
	logger *slog.Logger
}

// NewMySQLChecker creates a checker. No connection is made until Check.
func NewMySQLChecker(cfg Config, logger *slog.Logger) *MySQLChecker {
	return &MySQLChecker{cfg: cfg, logger: logger}
}

// Check connects, lists the tables, and grades the schema. Connection and
// query failures come back as ConnectionFailed rather than an error return:
// while the grid is bootstrapping, an unreachable database is an expected
// intermediate state the caller polls through, not an exception.
func (m *MySQLChecker) Check(ctx context.Context) *Result {
	db, err := sql.Open("mysql", m.cfg.DSN())
	if err != nil {
		return &Result{Outcome: ConnectionFailed, Users: -1, Regions: -1, Err: err}
	}
	defer func() {
		_ = db.Close()
	}()

	tables, err := listTables(ctx, db)
	if err != nil {
		m.logger.Debug("database not reachable", "addr", m.cfg.Addr(), "error", err)
		return &Result{Outcome: ConnectionFailed, Users: -1, Regions: -1, Err: err}
	}

	res := Classify(tables)
	if res.Outcome != SchemaComplete {
		return res
	}

	// Informational only. Count failures never change the verdict.
	res.Users = m.countRows(ctx, db, tables, "useraccounts")
	res.Regions = m.countRows(ctx, db, tables, "regions")
	return res
}

// listTables runs SHOW TABLES against the configured database.
func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table listing: %w", err)
	}
	return tables, nil
}

// countRows counts the rows of the listed table whose lowercased name
// matches want. The actual listed name goes into the query because table
// identifiers are case-sensitive on some hosts. Returns -1 when the count
// cannot be taken.
func (m *MySQLChecker) countRows(ctx context.Context, db *sql.DB, tables []string, want string) int64 {
	actual := ""
	for _, t := range tables {
		if strings.ToLower(t) == want {
			actual = t
			break
		}
	}
	if actual == "" {
		return -1
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", actual)
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		m.logger.Debug("row count failed", "table", actual, "error", err)
		return -1
	}
	return n
}
