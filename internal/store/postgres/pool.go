// Package postgres implements the store and tenancy contracts over a
// PostgreSQL region database using pgx.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/tenantmove/internal/config"
	"github.com/willibrandon/tenantmove/internal/logger"
	"github.com/willibrandon/tenantmove/internal/store"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUndefinedTable  = "42P01"
	codeUniqueViolation = "23505"
)

// Options tunes a DB beyond its connection settings.
type Options struct {
	// QueryTimeout bounds each Query call. Zero means no timeout.
	QueryTimeout time.Duration
	// ConnectAttempts is the number of connection attempts. Zero means 5.
	ConnectAttempts int
	Logger          *slog.Logger
}

// DB is a region database. It implements store.DB.
type DB struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
	log          *slog.Logger

	// high-water marks of allocated identities, keyed by table.column
	mu  sync.Mutex
	ids map[string]int64
}

var _ store.DB = (*DB)(nil)

// Connect opens a pool for cfg, retrying transient failures with
// exponential backoff.
func Connect(ctx context.Context, cfg config.PostgreSQLConfig, opts Options) (*DB, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Logger()
	}
	attempts := opts.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}

	connString, err := buildConnectionString(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tenantmove"

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var pool *pgxpool.Pool
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			err = p.Ping(ctx)
			if err != nil {
				p.Close()
			}
		}
		if err != nil {
			log.Debug("connect failed", "attempt", attempt, "host", poolConfig.ConnConfig.Host, "error", err)
			if !isRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		pool = p
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempt, err)
	}

	log.Info("connected to region database",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database)

	return &DB{
		pool:         pool,
		queryTimeout: opts.QueryTimeout,
		log:          log,
		ids:          make(map[string]int64),
	}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool, log: logger.Logger(), ids: make(map[string]int64)}
}

// Pool returns the underlying pgxpool.Pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Close closes the connection pool.
func (d *DB) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// buildConnectionString builds a PostgreSQL connection string from config.
// A DSN wins over the individual fields, which fall back to the libpq
// environment variables.
func buildConnectionString(cfg config.PostgreSQLConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	host := getEnvOrDefault("PGHOST", cfg.Host)
	port := getEnvOrDefaultInt("PGPORT", cfg.Port)
	database := getEnvOrDefault("PGDATABASE", cfg.Database)
	user := getEnvOrDefault("PGUSER", cfg.User)
	sslmode := getEnvOrDefault("PGSSLMODE", cfg.SSLMode)
	if port == 0 {
		port = 5432
	}
	if sslmode == "" {
		sslmode = "prefer"
	}

	password, err := getPassword(cfg.PasswordCommand)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		quoteParam(host), port, quoteParam(database), quoteParam(user), quoteParam(password), sslmode), nil
}

// quoteParam quotes a keyword/value connection parameter.
func quoteParam(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// getPassword retrieves the password from password_command, then PGPASSWORD.
func getPassword(passwordCommand string) (string, error) {
	if passwordCommand != "" {
		return executePasswordCommand(passwordCommand)
	}
	if password, ok := os.LookupEnv("PGPASSWORD"); ok {
		return password, nil
	}
	return "", nil
}

// executePasswordCommand executes the password command with timeout.
func executePasswordCommand(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty password command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("password command timed out")
		}
		return "", fmt.Errorf("password command failed: %w (stderr: %s)", err, stderr.String())
	}

	return strings.TrimSpace(stdout.String()), nil
}

// isRetryableError checks if a connection error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "the database system is starting up")
}

// translate maps PostgreSQL errors onto the store's sentinels.
func translate(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return fmt.Errorf("%s: %w", table, store.ErrTableNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns the environment variable as int or a default.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
