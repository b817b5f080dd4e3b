package storage

import (
	"strings"
	"time"
)

type Option interface {
	applyJSON(*JSONRepository)
	applyPostgres(*PostgresConfig)
	applySQLite(*SQLiteConfig)
}

type optionAdapter struct {
	json   func(*JSONRepository)
	pg     func(*PostgresConfig)
	sqlite func(*SQLiteConfig)
}

func (o optionAdapter) applyJSON(store *JSONRepository) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func (o optionAdapter) applySQLite(cfg *SQLiteConfig) {
	if o.sqlite != nil && cfg != nil {
		o.sqlite(cfg)
	}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

func sqliteOnlyOption(sqlite func(*SQLiteConfig)) Option {
	return optionAdapter{sqlite: sqlite}
}

// WithClock overrides the time source used for created_at/updated_at stamps.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return optionAdapter{
		json: func(s *JSONRepository) {
			if now != nil {
				s.now = now
			}
		},
		pg: func(cfg *PostgresConfig) {
			if now != nil {
				cfg.Clock = now
			}
		},
		sqlite: func(cfg *SQLiteConfig) {
			if now != nil {
				cfg.Clock = now
			}
		},
	}
}

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresAcquireTimeout bounds how long the repository waits to obtain a
// connection from the pool before giving up on a statement.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	})
}

func WithPostgresApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	})
}

// WithSQLiteBusyTimeout adjusts the busy_timeout pragma applied at open.
func WithSQLiteBusyTimeout(timeout time.Duration) Option {
	return sqliteOnlyOption(func(cfg *SQLiteConfig) {
		if timeout > 0 {
			cfg.BusyTimeout = timeout
		}
	})
}
