package main

import (
	"os"

	"github.com/whisper/chat-relay/cmd/chatrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
