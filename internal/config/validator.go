package config

import (
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs the startup validation described in §6/§7: invalid
// values here are a ConfigError and must be fatal before the engine binds
// any socket.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	switch cfg.Role {
	case RoleServer, RoleClient:
	default:
		result.AddError("role", fmt.Sprintf("invalid operation mode: %q (must be server or client)", cfg.Role))
	}

	if cfg.Interface == "" && cfg.LocalIP == nil {
		result.AddError("bind", "exactly one of -e <iface> or -l <ip> must be supplied")
	} else if cfg.Interface != "" && cfg.LocalIP != nil {
		result.AddError("bind", "only one of -e <iface> or -l <ip> may be supplied")
	}

	if cfg.PeerCount < 1 || cfg.PeerCount > 255 {
		result.AddError("peer_count", fmt.Sprintf("peer count %d out of range [1, 255]", cfg.PeerCount))
	}

	if cfg.Role == RoleServer {
		validatePort(cfg.AppPort, "app_port", result)
	}
	if cfg.Role == RoleClient {
		validatePort(cfg.AppDestPort, "app_dest_port", result)
		if cfg.PeerSourceIP == nil {
			result.AddError("peer_source_ip", "client mode requires -s <server ip>")
		}
		if cfg.DestIP == nil {
			result.AddError("dest_ip", "client mode requires -d <game server ip>")
		}
	}

	validatePort(cfg.ServerRelayBasePort, "server_relay_base_port", result)
	validatePort(cfg.ClientRelayBasePort, "client_relay_base_port", result)
	if cfg.PeerCount >= 1 {
		validatePort(cfg.ServerRelayBasePort+cfg.PeerCount-1, "server_relay_base_port+N-1", result)
		validatePort(cfg.ClientRelayBasePort+cfg.PeerCount-1, "client_relay_base_port+N-1", result)
	}
	if rangesOverlap(cfg.ServerRelayBasePort, cfg.PeerCount, cfg.ClientRelayBasePort, cfg.PeerCount) {
		result.AddWarning("relay_base_ports", "server and client relay port ranges overlap; this is only safe when SERVER and CLIENT run on different hosts")
	}

	if cfg.ReceiveBufferSize < 512 {
		result.AddWarning("receive_buffer_size", fmt.Sprintf("receive buffer size %d is unusually small and may truncate game payloads", cfg.ReceiveBufferSize))
	}
	if cfg.PacketQueueSize < 1 {
		result.AddError("packet_queue_size", "packet queue size must be at least 1")
	}

	if cfg.PingInterval <= 0 {
		result.AddError("ping_interval", "ping interval must be positive")
	}
	if cfg.PingTimeout <= cfg.PingInterval {
		result.AddWarning("ping_timeout", "ping timeout should be greater than ping interval or HELLO retransmits will race KA-ACKs")
	}
	if cfg.ServerConnectionTimeout <= cfg.PingInterval {
		result.AddWarning("server_connection_timeout", "server connection timeout should exceed the keep-alive interval or slots will reset between keep-alives")
	}

	switch cfg.Logging.Level {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		result.AddWarning("logging.level", fmt.Sprintf("unrecognized logging level %q, defaulting to INFO", cfg.Logging.Level))
	}

	if cfg.Telemetry.MQTTEnabled && cfg.Telemetry.BrokerURL == "" {
		result.AddError("telemetry.broker_url", "broker URL is required when MQTT telemetry is enabled")
	}

	return result
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1024 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1024-65535)", port))
	}
}

func rangesOverlap(startA, lenA, startB, lenB int) bool {
	endA := startA + lenA - 1
	endB := startB + lenB - 1
	return startA <= endB && startB <= endA
}
