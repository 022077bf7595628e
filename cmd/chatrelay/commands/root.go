// Package commands holds the chatrelay command line: serve runs the relay,
// tail and send are small clients for it.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	relayURL string
	agent    string
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Single-room chat relay over WebSocket",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&relayURL, "url", "ws://127.0.0.1:8080/ws", "relay WebSocket URL (tail, send)")
	root.PersistentFlags().StringVar(&agent, "agent", "chatrelay-cli", "User-Agent presented to the relay (tail, send)")

	root.AddCommand(serveCmd(), tailCmd(), sendCmd())
	return root.Execute()
}
