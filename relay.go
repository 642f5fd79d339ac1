package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the reference sync relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.Init(redisOptions()); err != nil {
			return err
		}
		defer database.Database().Close()

		if zerolog.GlobalLevel() > zerolog.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		server := relay.New(database.NewStore(database.Database()), relay.Options{
			PublicURL: cfg.Relay.PublicURL,
			TokenTTL:  cfg.Relay.TokenTTL,
			ShareTTL:  cfg.Relay.ShareTTL,
		})
		defer server.Close()

		srv := &http.Server{
			Addr:    cfg.Relay.Listen,
			Handler: server.Router(),
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("error shutting down server")
			}
		}()

		log.Info().Str("addr", srv.Addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func redisOptions() database.Options {
	return database.Options{
		Addr:     cfg.Relay.RedisAddr,
		Password: cfg.Relay.RedisPassword,
		DB:       cfg.Relay.RedisDB,
	}
}
