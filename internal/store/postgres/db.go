package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"masjidpay/internal/store/repositories"
)

// Open connects and pings, retrying while the database comes up.
func Open(ctx context.Context, dsn string, maxWait time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn().Err(err).Msg("db not ready")
			return err
		}
		pool = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxWait
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return pool, nil
}

func MustOpen(ctx context.Context, dsn string) *pgxpool.Pool {
	pool, err := Open(ctx, dsn, 30*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect fail")
	}
	return pool
}

// notFound maps pgx's no-rows error to the repository sentinel.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.ErrNotFound
	}
	return err
}
