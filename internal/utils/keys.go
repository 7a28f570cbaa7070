package utils

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var keys struct {
	sync.RWMutex
	limits map[string]int
}

var keyDB struct {
	sync.Mutex
	dsn  string
	pool *pgxpool.Pool
}

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrKeyStoreNotReady signals that the key store has not been loaded yet.
	// This happens during startup while Postgres is unreachable.
	ErrKeyStoreNotReady = errors.New("key store not ready")
)

func postgresPort(cfg PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

func postgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	switch {
	case cfg.Host == "":
		return "", fmt.Errorf("postgres host is empty")
	case cfg.Database == "":
		return "", fmt.Errorf("postgres database is empty")
	case cfg.User == "":
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	port := postgresPort(cfg)
	switch {
	case strings.HasPrefix(hostPort, "["):
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	case strings.Count(hostPort, ":") >= 2:
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	case !strings.Contains(hostPort, ":"):
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func keyPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	keyDB.Lock()
	defer keyDB.Unlock()

	if keyDB.pool != nil && keyDB.dsn == dsn {
		return keyDB.pool, nil
	}
	if keyDB.pool != nil {
		keyDB.pool.Close()
		keyDB.pool = nil
		keyDB.dsn = ""
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// Small control-plane table, read once a minute.
	pcfg.MaxConns = 2
	pcfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	keyDB.pool = pool
	keyDB.dsn = dsn
	return pool, nil
}

// CloseKeyStore releases the Postgres pool, if any.
func CloseKeyStore() {
	keyDB.Lock()
	defer keyDB.Unlock()
	if keyDB.pool != nil {
		keyDB.pool.Close()
		keyDB.pool = nil
		keyDB.dsn = ""
	}
}

const keysSchema = `CREATE TABLE IF NOT EXISTS api_keys (
	key TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 60,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

// LoadKeysFromPostgres reads all API keys with their rate limits and replaces
// the in-memory store. The table is created when missing.
func LoadKeysFromPostgres(cfg PostgresConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := keyPool(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, keysSchema); err != nil {
		return fmt.Errorf("ensure api_keys schema: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT key, rate_limit FROM api_keys`)
	if err != nil {
		return err
	}
	defer rows.Close()

	limits := make(map[string]int)
	for rows.Next() {
		var key string
		var limit int
		if err := rows.Scan(&key, &limit); err != nil {
			return err
		}
		limits[key] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	storeKeys(limits)
	return nil
}

// LoadKeysFromMap replaces the key store with a copy of m. A nil map marks the
// store as loaded but empty.
func LoadKeysFromMap(m map[string]int) {
	limits := make(map[string]int, len(m))
	for k, v := range m {
		limits[k] = v
	}
	storeKeys(limits)
}

// ResetKeys puts the store back in its not-loaded state.
func ResetKeys() {
	storeKeys(nil)
}

func storeKeys(limits map[string]int) {
	keys.Lock()
	keys.limits = limits
	keys.Unlock()
}

// KeysReady returns true once the store has been loaded at least once.
func KeysReady() bool {
	keys.RLock()
	defer keys.RUnlock()
	return keys.limits != nil
}

// ValidateKey checks whether key exists in the store.
func ValidateKey(key string) bool {
	keys.RLock()
	defer keys.RUnlock()
	_, ok := keys.limits[key]
	return ok
}

// KeyRateLimit returns the per-interval request limit for key. Unknown keys and
// keys stored with a non-positive limit return 0, meaning "not limited".
func KeyRateLimit(key string) int {
	keys.RLock()
	defer keys.RUnlock()
	if limit, ok := keys.limits[key]; ok && limit > 0 {
		return limit
	}
	return 0
}

// RefreshKeysPeriodically reloads the key store at the given interval until
// stop is closed.
func RefreshKeysPeriodically(cfg PostgresConfig, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := LoadKeysFromPostgres(cfg); err != nil {
				Error("Failed to reload API keys", "error", err)
			}
		case <-stop:
			return
		}
	}
}
