package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/prospect-bot/internal/api"
	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/bot"
	"github.com/xaenox/prospect-bot/internal/inbox"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and admin API, the AutoReset scheduler and the owner bot",
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		owner    *bot.Bot
		notifier inbox.Notifier
	)
	if cfg.Telegram.Token != "" {
		owner, err = bot.New(cfg.Telegram.Token, cfg.Telegram.OwnerChatID, bot.Deps{
			Traits:    a.traits,
			AutoReset: a.autoReset,
			Analyzer:  a.analyzer,
			Tasks:     a.tasks,
		}, logger)
		if err != nil {
			return err
		}
		notifier = owner
	} else {
		logger.Info("No Telegram token configured, owner bot disabled")
	}

	handler := api.NewRouter(api.Deps{
		Inbox:       a.newInbox(notifier),
		Traits:      a.traits,
		Keywords:    a.store,
		AutoReset:   a.autoReset,
		Analyzer:    a.analyzer,
		Messages:    a.store,
		Tasks:       a.tasks,
		Classifier:  a.engine,
		Logger:      logger,
		AdminToken:  cfg.Server.AdminToken,
		AppSecret:   cfg.Instagram.AppSecret,
		VerifyToken: cfg.Instagram.VerifyToken,
	})
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		autoreset.NewScheduler(a.autoReset, cfg.AutoReset.Interval, logger).Run(ctx)
		return nil
	})

	if owner != nil {
		g.Go(func() error {
			return owner.Start(ctx)
		})
	}

	return g.Wait()
}
