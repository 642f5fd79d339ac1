package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

var c *redis.Client

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and checks that the server answers.
func Connect(opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// Init sets up the process-wide client returned by Database.
func Init(opts Options) error {
	rdb, err := Connect(opts)
	if err != nil {
		return err
	}
	c = rdb
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to redis")
	return nil
}

func Database() *redis.Client {
	if c == nil {
		log.Fatal().Msg("database used before Init")
	}
	return c
}
