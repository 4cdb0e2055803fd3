// Package readiness implements the connection checks that gate a deployment:
// migrations shouldn't start before the database accepts connections.
package readiness

import (
	"context"
	"net"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WaitTCP dials addr repeatedly until a connection succeeds or ctx expires.
func WaitTCP(ctx context.Context, addr string, interval time.Duration) error {
	dialer := net.Dialer{}

	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}

		log.Debug().Err(err).Msgf("%s not reachable yet", addr)

		select {
		case <-ctx.Done():
			return eris.Wrapf(ctx.Err(), "gave up waiting for %s", addr)
		case <-time.After(interval):
		}
	}
}

// WaitPostgres connects with the given DSN repeatedly until a ping succeeds
// or ctx expires.
func WaitPostgres(ctx context.Context, dsn string, interval time.Duration) error {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return eris.Wrap(err, "invalid database DSN")
	}

	poolConfig.ConnConfig.Logger = PgxLogger{}
	poolConfig.ConnConfig.LogLevel = pgx.LogLevelError

	for {
		pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()

			if err == nil {
				return nil
			}
		}

		log.Debug().Err(err).Msg("database not ready yet")

		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "gave up waiting for the database")
		case <-time.After(interval):
		}
	}
}

// PgxLogger implements pgx's logger interface
type PgxLogger struct{}

// Log is a pgx-compatible wrapper around zerolog
func (PgxLogger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	var zlevel zerolog.Level
	switch level {
	case pgx.LogLevelNone:
		zlevel = zerolog.NoLevel
	case pgx.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case pgx.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case pgx.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case pgx.LogLevelDebug:
		zlevel = zerolog.DebugLevel
	default:
		zlevel = zerolog.DebugLevel
	}

	log.WithLevel(zlevel).Str("module", "pgx").Fields(data).Msg(msg)
}
