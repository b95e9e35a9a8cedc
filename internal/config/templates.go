package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Stofina realtime client configuration

[streams]
# STOMP-over-WebSocket endpoints, one session per stream. These are the raw WebSocket
# transports of the SockJS endpoints; an http(s) SockJS URL such as
# "http://localhost:9005/ws" is also accepted.
market_data_url = "ws://localhost:9005/ws/websocket"
order_book_url = "ws://localhost:9006/ws/orderbook/websocket"
trades_url = "ws://localhost:9006/ws/trades/websocket"
# Fixed-delay reconnection
reconnect_enabled = true
reconnect_delay = "2s"
max_reconnect_attempts = 10
connection_timeout = "10s"
# STOMP heart-beats
heartbeat_outgoing = "4s"
heartbeat_incoming = "4s"
# Market data subscription
update_frequency = 1000
default_symbols = ["THYAO", "GARAN", "ISCTR", "AKBNK", "TUPRS"]
max_order_book_levels = 20
max_trade_history = 50

[api]
order_base_url = "http://localhost:8081"
market_base_url = "http://localhost:8082"
request_timeout = "10s"
requests_per_second = 5.0
tenant_id = 1

[orders]
# Market orders are rejected when the quote is older than this
stale_price_after = "30s"
# Scheduled orders
max_schedule_ahead = "168h"
market_open = "09:30"
market_close = "18:00"
timezone = "Europe/Istanbul"
# Reject scheduled times on exchange holidays (scmhub/calendar MIC)
holiday_calendar = false
calendar_mic = "xist"
default_account = ""

[security]
audit_enabled = true
strict_validation = true
# audit_dir = ""
# journal_path = ""

[log]
level = "info"
console = true
file = true
`

const credentialsTemplate = `# Stofina credentials
# WARNING: Keep this file secure! Do not commit to version control.

# Bearer token sent with every REST call
token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
