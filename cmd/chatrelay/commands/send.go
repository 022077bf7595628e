package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/chat-relay/internal/protocol"
	"github.com/whisper/chat-relay/internal/wsclient"
)

// replyWait is how long send waits for a refusal before assuming success.
const replyWait = 500 * time.Millisecond

// send <message...>: post one chat message to the room.
func sendCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Post a message to the chat room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c, err := wsclient.Dial(ctx, relayURL, agent)
			if err != nil {
				return err
			}
			defer c.Close()

			text := strings.Join(args, " ")
			if raw {
				err = c.SendRaw(text)
			} else {
				err = c.Say(text)
			}
			if err != nil {
				return err
			}

			// The relay only answers refusals.
			waitCtx, waitCancel := context.WithTimeout(ctx, replyWait)
			defer waitCancel()
			for {
				_, msg, err := c.Next(waitCtx)
				if err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "sent")
					return nil
				}
				switch m := msg.(type) {
				case protocol.ErrorMsg:
					return fmt.Errorf("refused: %s: %s", m.Code, m.Message)
				case protocol.RateLimitedMsg:
					return fmt.Errorf("rate limited, retry in %ds", m.RetryAfter)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "send the argument as-is instead of tagging it CHAT|")
	return cmd
}
