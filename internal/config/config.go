// Package config handles configuration loading, validation, and merging
// for the Wookiee Unicaster: CLI flags (required, per-run) layered on top
// of a keyed configuration file (optional, operator-wide defaults) layered
// on top of built-in defaults.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

// Role is the operating mode of an engine instance.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Defaults mirror the reference project's convention of well-known
// constants for anything a deployment can reasonably leave unset.
const (
	DefaultPeerCount                   = 1
	DefaultServerRelayBasePort         = 23000
	DefaultClientRelayBasePort         = 23100
	DefaultReceiveBufferSize           = 2048
	DefaultPacketQueueSize             = 256
	DefaultClientConnectionTimeout     = 30 * time.Second
	DefaultServerConnectionTimeout     = 30 * time.Second
	DefaultServerPeerConnectionTimeout = 180 * time.Second
	DefaultPingInterval                = 3 * time.Second
	DefaultPingTimeout                 = 6 * time.Second
	DefaultLoggingLevel                = "INFO"
)

// Config is the fully merged, immutable-once-started configuration record
// the relay engine consumes. Nothing in the engine mutates it after Start.
type Config struct {
	Role Role

	// Local bind: exactly one of Interface/LocalIP is set after resolution.
	Interface string
	LocalIP   net.IP

	PeerCount int

	AppPort     int // SERVER: external port peers connect to (I)
	AppDestPort int // CLIENT: local game server port (O)

	PeerSourceIP net.IP // CLIENT only (S): SERVER's public IP
	DestIP       net.IP // CLIENT only (D): local game server IP

	ServerRelayBasePort int // B_s
	ClientRelayBasePort int // B_c

	ReceiveBufferSize int
	PacketQueueSize   int

	ClientConnectionTimeout     time.Duration
	ServerConnectionTimeout     time.Duration
	ServerPeerConnectionTimeout time.Duration
	PingInterval                time.Duration
	PingTimeout                 time.Duration

	Quiet bool

	Logging   LoggingConfig
	API       APIConfig
	Telemetry TelemetryConfig
}

// LoggingConfig controls the ambient logging stack (§10.1).
type LoggingConfig struct {
	Level      string
	Directory  string
	MaxSizeMB  int
	MaxBackups int
	Console    bool
}

// APIConfig controls the optional read-only REST status endpoint (§10.3).
type APIConfig struct {
	Addr string // empty disables the endpoint
}

// TelemetryConfig controls optional MQTT publishing and the SQLite session
// ledger (§10.4, §10.7).
type TelemetryConfig struct {
	MQTTEnabled bool
	BrokerURL   string
	Port        int
	UseTLS      bool
	ClientID    string

	SQLitePath string // empty disables the ledger
}

// Default returns a Config populated with the defaults named throughout
// §3 and §10, with no role, ports, or addresses filled in — those are
// always supplied by CLI flags.
func Default() *Config {
	return &Config{
		PeerCount:                   DefaultPeerCount,
		ServerRelayBasePort:         DefaultServerRelayBasePort,
		ClientRelayBasePort:         DefaultClientRelayBasePort,
		ReceiveBufferSize:           DefaultReceiveBufferSize,
		PacketQueueSize:             DefaultPacketQueueSize,
		ClientConnectionTimeout:     DefaultClientConnectionTimeout,
		ServerConnectionTimeout:     DefaultServerConnectionTimeout,
		ServerPeerConnectionTimeout: DefaultServerPeerConnectionTimeout,
		PingInterval:                DefaultPingInterval,
		PingTimeout:                 DefaultPingTimeout,
		Logging: LoggingConfig{
			Level:      DefaultLoggingLevel,
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// LoadFile overlays the keyed [LOGGING]/[CONNECTION]/[KEEP-ALIVE]/[API]/
// [TELEMETRY] sections of an INI-syntax file onto cfg. Unknown keys are
// ignored with a WARNING; missing keys keep whatever cfg already holds.
// A missing file is not an error: built-in defaults (and, later, CLI
// flags) stand on their own.
func LoadFile(cfg *Config, path string) error {
	f, err := ini.LoadSources(ini.LoadOptions{Loose: true, AllowShadows: true}, path)
	if err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}

	if sec := f.Section("LOGGING"); sec != nil {
		applyString(sec, "logging_level", &cfg.Logging.Level)
		applyString(sec, "logging_directory", &cfg.Logging.Directory)
		applyInt(sec, "max_size_mb", &cfg.Logging.MaxSizeMB)
		applyInt(sec, "max_backups", &cfg.Logging.MaxBackups)
	}

	if sec := f.Section("CONNECTION"); sec != nil {
		applyInt(sec, "receive_buffer_size", &cfg.ReceiveBufferSize)
		applyInt(sec, "packet_queue_size", &cfg.PacketQueueSize)
		applySeconds(sec, "client_connection_timeout", &cfg.ClientConnectionTimeout)
		applySeconds(sec, "server_connection_timeout", &cfg.ServerConnectionTimeout)
		applySeconds(sec, "server_peer_connection_timeout", &cfg.ServerPeerConnectionTimeout)
	}

	if sec := f.Section("KEEP-ALIVE"); sec != nil {
		applySeconds(sec, "ping_interval", &cfg.PingInterval)
		applySeconds(sec, "ping_timeout", &cfg.PingTimeout)
	}

	if sec := f.Section("API"); sec != nil {
		applyString(sec, "addr", &cfg.API.Addr)
	}

	if sec := f.Section("TELEMETRY"); sec != nil {
		applyBool(sec, "mqtt_enabled", &cfg.Telemetry.MQTTEnabled)
		applyString(sec, "broker_url", &cfg.Telemetry.BrokerURL)
		applyInt(sec, "port", &cfg.Telemetry.Port)
		applyBool(sec, "use_tls", &cfg.Telemetry.UseTLS)
		applyString(sec, "client_id", &cfg.Telemetry.ClientID)
		applyString(sec, "sqlite_path", &cfg.Telemetry.SQLitePath)
	}

	warnUnknownKeys(f)

	return nil
}

func applyString(sec *ini.Section, key string, dst *string) {
	if sec.HasKey(key) {
		*dst = sec.Key(key).String()
	}
}

func applyInt(sec *ini.Section, key string, dst *int) {
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		log.Warn().Str("key", key).Str("value", sec.Key(key).String()).Msg("config: ignoring non-integer value")
		return
	}
	*dst = v
}

func applyBool(sec *ini.Section, key string, dst *bool) {
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Bool()
	if err != nil {
		log.Warn().Str("key", key).Str("value", sec.Key(key).String()).Msg("config: ignoring non-boolean value")
		return
	}
	*dst = v
}

func applySeconds(sec *ini.Section, key string, dst *time.Duration) {
	if !sec.HasKey(key) {
		return
	}
	v, err := sec.Key(key).Int()
	if err != nil {
		log.Warn().Str("key", key).Str("value", sec.Key(key).String()).Msg("config: ignoring non-integer value")
		return
	}
	*dst = time.Duration(v) * time.Second
}

var knownKeys = map[string]map[string]bool{
	"LOGGING":    {"logging_level": true, "logging_directory": true, "max_size_mb": true, "max_backups": true},
	"CONNECTION": {"receive_buffer_size": true, "packet_queue_size": true, "client_connection_timeout": true, "server_connection_timeout": true, "server_peer_connection_timeout": true},
	"KEEP-ALIVE": {"ping_interval": true, "ping_timeout": true},
	"API":        {"addr": true},
	"TELEMETRY":  {"mqtt_enabled": true, "broker_url": true, "port": true, "use_tls": true, "client_id": true, "sqlite_path": true},
}

func warnUnknownKeys(f *ini.File) {
	for _, sec := range f.Sections() {
		known, ok := knownKeys[sec.Name()]
		if !ok {
			if sec.Name() != ini.DefaultSection {
				log.Warn().Str("section", sec.Name()).Msg("config: ignoring unknown section")
			}
			continue
		}
		for _, key := range sec.Keys() {
			if !known[key.Name()] {
				log.Warn().Str("section", sec.Name()).Str("key", key.Name()).Msg("config: ignoring unknown key")
			}
		}
	}
}
