/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/natours/apiserver/config"
	"github.com/natours/apiserver/internal/db"
	"github.com/natours/apiserver/internal/mail"
	"github.com/natours/apiserver/internal/mq"
	"github.com/natours/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued mail over SMTP",
	Long: `Consumes mail jobs published by the server when MAIL_BACKEND=queue
and delivers them over SMTP. A password reset mail that cannot be delivered
gets its reset token revoked. Usage:

	natours mailer
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()
		log := newLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to message queue")
		}
		defer queue.Close()

		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer conn.Close()

		worker := mail.NewWorker(
			queue,
			cfg.Mail.Channel,
			mail.NewSMTPSender(cfg.Mail.SMTP, cfg.Mail.From),
			log,
			mail.WithResetTokens(store.NewUserRepository(conn)),
		)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			log.WithError(err).Error("mailer worker stopped")
			os.Exit(1)
		}
		log.Info("mailer worker stopped")
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
