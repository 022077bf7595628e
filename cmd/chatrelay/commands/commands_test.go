package commands

import (
	"strings"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chat-relay/internal/chat"
	"github.com/whisper/chat-relay/internal/config"
)

func TestServeFlags_OnlyChangedOverride(t *testing.T) {
	req := require.New(t)
	cmd := serveCmd()
	req.NoError(cmd.Flags().Parse([]string{"--port", "9000", "--tls", "--user", "relay", "--password", "secret"}))

	cfg := config.Config{Host: "10.0.0.1", Port: 8080, MetricsPort: 9090, LogLevel: "warn"}
	var f serveFlags
	f.host, _ = cmd.Flags().GetString("host")
	f.port, _ = cmd.Flags().GetInt("port")
	f.tls, _ = cmd.Flags().GetBool("tls")
	f.user, _ = cmd.Flags().GetString("user")
	f.password, _ = cmd.Flags().GetString("password")
	f.apply(cmd, &cfg)

	req.Equal("10.0.0.1", cfg.Host, "unset flag keeps the environment value")
	req.Equal(9000, cfg.Port)
	req.Equal(9090, cfg.MetricsPort)
	req.True(cfg.TLS)
	req.Equal("relay", cfg.User)
	req.Equal("secret", cfg.Password)
	req.Equal("warn", cfg.LogLevel)
}

func TestTLSFile(t *testing.T) {
	require.Empty(t, tlsFile(false, "cert.pem"))
	require.Equal(t, "cert.pem", tlsFile(true, "cert.pem"))
}

func TestFormatUpdate(t *testing.T) {
	color.Disable()
	t.Cleanup(func() { color.Enable = true })

	got := formatUpdate(map[string]string{
		chat.FieldTimestampHuman: "17:04:05",
		chat.FieldOriginAddress:  "1.2.3.4",
		chat.FieldSenderAgent:    "UA1",
		chat.FieldMessage:        "hello",
	})

	require.Equal(t, "[17:04:05] 1.2.3.4 (UA1): hello", strings.TrimSpace(got))
}
