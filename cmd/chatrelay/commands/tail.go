package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/messaging"
	"github.com/whisper/chat-relay/internal/protocol"
	"github.com/whisper/chat-relay/internal/wsclient"
)

func tailCmd() *cobra.Command {
	var (
		noColor bool
		natsURL string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the chat room and print every message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				color.Disable()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if natsURL != "" {
				return tailNATS(ctx, natsURL, cmd.OutOrStdout())
			}

			c, err := wsclient.Dial(ctx, relayURL, agent)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Subscribe(ctx, feed.ItemName); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), color.Gray.Sprintf("session %s following %s", c.SessionID(), feed.ItemName))

			return tail(ctx, c, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "follow the updates mirrored to NATS instead of connecting to the relay")
	return cmd
}

func tail(ctx context.Context, c *wsclient.Client, w io.Writer) error {
	for {
		msgType, msg, err := c.Next(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, wsclient.ErrClosed):
			return nil
		case err != nil:
			return err
		}

		switch m := msg.(type) {
		case protocol.UpdateMsg:
			fmt.Fprintln(w, formatUpdate(m.Fields))
		case protocol.ErrorMsg:
			fmt.Fprintln(w, color.Red.Sprintf("error %s: %s", m.Code, m.Message))
		default:
			fmt.Fprintln(w, color.Gray.Sprint(msgType))
		}
	}
}

// tailNATS prints the updates relays mirror to NATS until ctx is done.
func tailNATS(ctx context.Context, url string, w io.Writer) error {
	cfg := messaging.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = "chatrelay-tail"
	nc, err := messaging.NewNATSClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer nc.Close()

	updates := make(chan messaging.Update, 64)
	if err := nc.SubscribeUpdates(feed.ItemName, func(u messaging.Update) {
		select {
		case updates <- u:
		default: // slow terminal, drop
		}
	}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			fmt.Fprintln(w, formatUpdate(u.Fields))
		}
	}
}

// formatUpdate renders "[15:04:05] 1.2.3.4 (agent): text".
func formatUpdate(fields map[string]string) string {
	return fmt.Sprintf("%s %s %s %s",
		color.Gray.Sprintf("[%s]", fields[chat.FieldTimestampHuman]),
		color.Cyan.Sprint(fields[chat.FieldOriginAddress]),
		color.Magenta.Sprintf("(%s):", fields[chat.FieldSenderAgent]),
		fields[chat.FieldMessage])
}
