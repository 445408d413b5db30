package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// eventsCmd groups commands that work with published domain events.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect domain events on the message queue",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail <channel>",
	Short: "Log every event published to a channel",
	Long: `Subscribes to a channel and logs each event until interrupted.

	inspect events tail report.created
	inspect events tail mail.password_reset
`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: events.Channels,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := loadLogger()
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("messaging is disabled: set MQ_BACKEND")
		}
		defer queue.Close()

		channel := args[0]
		log.Info().Str("channel", channel).Msg("tailing events")
		err = queue.Subscribe(ctx, channel, func(_ context.Context, msg mq.Message) error {
			log.Info().
				Str("channel", channel).
				Str("message_id", msg.ID).
				RawJSON("payload", msg.Data).
				Msg("event received")
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}
