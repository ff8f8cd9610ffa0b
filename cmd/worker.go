/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stockroom/apiserver/internal/clock"
	"github.com/stockroom/apiserver/internal/db"
	"github.com/stockroom/apiserver/internal/logx"
	"github.com/stockroom/apiserver/internal/mq"
	"github.com/stockroom/apiserver/internal/server"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/internal/store"
	"go.uber.org/zap"
)

var purgeInterval time.Duration

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers password reset emails and purges expired reset tokens",
	Long: `Consumes password reset jobs from the configured broker and mails the
links. Expired reset tokens are purged on a fixed interval. Usage:

	stockroom worker --purge-interval 1h
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logx.WithContext(ctx, logger)

		if cfg.MQ.Backend == "memory" {
			return errors.New("the memory broker only delivers inside the server process; configure rabbitmq or pubsub")
		}
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("MQ_BACKEND must be set to run the worker")
		}
		defer queue.Close()

		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		dialect, err := store.DialectFor(cfg.Database.Driver)
		if err != nil {
			return err
		}
		clk := clock.System{}
		repos := store.NewRepositories(conn, dialect, clk)
		users := services.NewUserService(repos.Users, services.NewBcryptHasher(cfg.Auth.BcryptCost))
		reset := services.NewResetService(users, repos.ResetTokens, services.NewLogNotifier(cfg.PublicURL), clk, cfg.Auth.ResetTokenLifetime, nil)
		sender, err := server.NewMailer(cfg.Mail)
		if err != nil {
			return err
		}
		mailer := services.NewResetMailer(sender)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			purgeLoop(ctx, reset, purgeInterval)
		}()

		logger.Info("worker started", zap.String("mq_backend", cfg.MQ.Backend), zap.Duration("purge_interval", purgeInterval))
		err = queue.Subscribe(ctx, services.ResetChannel, func(ctx context.Context, msg mq.Message) error {
			return mailer.Handle(ctx, msg.Data)
		})
		stop()
		wg.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reset subscriber stopped", zap.Error(err))
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().DurationVar(&purgeInterval, "purge-interval", time.Hour, "How often expired reset tokens are deleted")
}

func purgeLoop(ctx context.Context, reset *services.ResetService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := logx.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := reset.Purge(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("purge reset tokens", zap.Error(err))
		case n > 0:
			log.Info("purged expired reset tokens", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
