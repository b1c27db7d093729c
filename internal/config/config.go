// Package config is the gateway's bootstrap surface (§1, SPEC_FULL.md
// Ambient Stack): the radio host/port, store DSN and MQTT broker URL,
// taken from flags. LoadDotEnv only copies an optional local .env into
// the process environment; no Config field is read from it. This is the way the teacher's
// `examples/*` commands take a handful of flags rather than a full
// config file — the tabular datastore's own configuration format stays
// out of scope.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Config is the full set of bootstrap knobs for cmd/meshgw.
type Config struct {
	RadioHost string
	RadioPort int

	StoreDSN string

	MQTTBroker string
	MQTTTopic  string

	HubListenAddr string
	ShimHost      string
	ShimPort      int

	LocalNode uint32

	LogLevel string

	Version  string
	Features string

	// Scheduler Set intervals, in minutes; 0 disables the task (§4.8).
	TracerouteMinutes      int
	TimeSyncMinutes        int
	RemoteAdminScanMinutes int
	KeyRepairMinutes       int
	LocalStatsMinutes      int
	TimeOffsetFlushMinutes int

	KeyRepairCeiling int
	KeyRepairRemove  bool

	AnnounceIntervalMinutes int
	AnnounceCron            string
	AnnounceMessage         string

	StartupAnnounceGuard time.Duration
}

// Default returns the spec's literal defaults (§4.8: 5-minute time-offset
// flush, 1-hour startup-announce guard) with every other task disabled
// until explicitly enabled by a flag.
func Default() Config {
	return Config{
		RadioPort:              4403,
		StoreDSN:               "meshgw.db",
		HubListenAddr:          ":8443",
		ShimHost:               "127.0.0.1",
		ShimPort:               4403,
		LogLevel:               "info",
		TimeOffsetFlushMinutes: 5,
		KeyRepairCeiling:       5,
		StartupAnnounceGuard:   time.Hour,
	}
}

// RegisterFlags binds cfg's fields onto cmd's persistent flag set; the
// parsed values are written straight into cfg when cmd.Execute runs.
func RegisterFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.RadioHost, "radio-host", cfg.RadioHost, "Meshtastic radio TCP host")
	flags.IntVar(&cfg.RadioPort, "radio-port", cfg.RadioPort, "Meshtastic radio TCP port")
	flags.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "sqlite DSN for the Store Port adapter")
	flags.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "MQTT broker URL for notification fan-out (empty disables it)")
	flags.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for notification fan-out")
	flags.StringVar(&cfg.HubListenAddr, "hub-listen", cfg.HubListenAddr, "listen address for the virtual-node websocket hub")
	flags.StringVar(&cfg.ShimHost, "shim-host", cfg.ShimHost, "host scripts should dial for the virtual-node TCP shim, in place of the physical radio")
	flags.IntVar(&cfg.ShimPort, "shim-port", cfg.ShimPort, "listen port for the virtual-node TCP shim, and the port scripts are pointed at")
	flags.Uint32Var(&cfg.LocalNode, "local-node", cfg.LocalNode, "local node number")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	flags.StringVar(&cfg.Features, "features", cfg.Features, "{FEATURES} token value advertised in announce/responder text")

	flags.IntVar(&cfg.TracerouteMinutes, "task-traceroute-minutes", cfg.TracerouteMinutes, "traceroute task interval in minutes, 0 disables")
	flags.IntVar(&cfg.TimeSyncMinutes, "task-time-sync-minutes", cfg.TimeSyncMinutes, "time-sync task interval in minutes, 0 disables")
	flags.IntVar(&cfg.RemoteAdminScanMinutes, "task-remote-admin-scan-minutes", cfg.RemoteAdminScanMinutes, "remote-admin scan task interval in minutes, 0 disables")
	flags.IntVar(&cfg.KeyRepairMinutes, "task-key-repair-minutes", cfg.KeyRepairMinutes, "key-repair task interval in minutes, 0 disables")
	flags.IntVar(&cfg.LocalStatsMinutes, "task-local-stats-minutes", cfg.LocalStatsMinutes, "local-stats task interval in minutes, 0 disables")
	flags.IntVar(&cfg.TimeOffsetFlushMinutes, "task-time-offset-flush-minutes", cfg.TimeOffsetFlushMinutes, "time-offset flush interval in minutes")
	flags.IntVar(&cfg.KeyRepairCeiling, "key-repair-ceiling", cfg.KeyRepairCeiling, "NodeInfo-exchange retries before a remove-node admin command is considered")
	flags.BoolVar(&cfg.KeyRepairRemove, "key-repair-remove", cfg.KeyRepairRemove, "issue a remove-node admin command once the key-repair ceiling is hit")

	flags.IntVar(&cfg.AnnounceIntervalMinutes, "announce-interval-minutes", cfg.AnnounceIntervalMinutes, "announce task interval in minutes, 0 disables unless --announce-cron is set")
	flags.StringVar(&cfg.AnnounceCron, "announce-cron", cfg.AnnounceCron, "cron expression for the announce task, overrides --announce-interval-minutes")
	flags.StringVar(&cfg.AnnounceMessage, "announce-message", cfg.AnnounceMessage, "token-expanded announce message text")
	flags.DurationVar(&cfg.StartupAnnounceGuard, "startup-announce-guard", cfg.StartupAnnounceGuard, "for this long after boot, skip an announce if the previous one was sent within this window")
}

// LoadDotEnv loads a local .env file into the process environment if one
// exists, the way SPEC_FULL.md's ambient stack describes (optional,
// silently skipped when absent).
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}
