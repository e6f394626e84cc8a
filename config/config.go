// Package config holds the node's on-disk configuration shape (§6's
// "CLI / configuration surface (collaborator)"). Grounded on teacher's
// config/config.go for the typed-struct + JSON + Validate() shape,
// generalized past its balance/genesis-allocation fields to the fields §6
// actually lists: a port override, a peer list, a node-id override, a log
// level, a disable-interactive flag, and an optional HTTP API port.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chainrelay/chainrelay/consensus"
	"github.com/chainrelay/chainrelay/crypto"
)

// Peer identifies a remote validator to connect to on startup.
type Peer struct {
	ID   string `json:"id" mapstructure:"id"`
	Addr string `json:"addr" mapstructure:"addr"` // host:port
}

// TLSConfig holds paths to the PEM files needed for mTLS. Nil or all-empty
// falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert" mapstructure:"ca_cert"`
	NodeCert string `json:"node_cert" mapstructure:"node_cert"`
	NodeKey  string `json:"node_key" mapstructure:"node_key"`
}

// ConsensusTiming mirrors §4.6.5's configurable parameters; zero values
// mean "use the default" and are left untouched by ApplyTo.
type ConsensusTiming struct {
	BlockIntervalSeconds       int `json:"block_interval_seconds" mapstructure:"block_interval_seconds"`
	ProposalTimeoutSeconds     int `json:"proposal_timeout_seconds" mapstructure:"proposal_timeout_seconds"`
	HeartbeatIntervalSeconds   int `json:"heartbeat_interval_seconds" mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds    int `json:"heartbeat_timeout_seconds" mapstructure:"heartbeat_timeout_seconds"`
	ReconnectIntervalSeconds   int `json:"reconnect_interval_seconds" mapstructure:"reconnect_interval_seconds"`
	RecoveryGracePeriodSeconds int `json:"recovery_grace_period_seconds" mapstructure:"recovery_grace_period_seconds"`
	ViewChangeCooldownSeconds  int `json:"view_change_cooldown_seconds" mapstructure:"view_change_cooldown_seconds"`
	MaxBlockSize               int `json:"max_block_size" mapstructure:"max_block_size"`
	MaxFrameBytes              int `json:"max_frame_bytes" mapstructure:"max_frame_bytes"`
	VerifySignatures           bool `json:"verify_signatures" mapstructure:"verify_signatures"`
}

// Config holds all node configuration.
type Config struct {
	NodeID             string          `json:"node_id" mapstructure:"node_id"`
	DataDir            string          `json:"data_dir" mapstructure:"data_dir"`
	P2PPort            int             `json:"p2p_port" mapstructure:"p2p_port"`
	HTTPPort           int             `json:"http_port" mapstructure:"http_port"` // 0 disables the admin read API
	LogLevel           string          `json:"log_level" mapstructure:"log_level"`
	DisableInteractive bool            `json:"disable_interactive" mapstructure:"disable_interactive"`
	Validators         []string        `json:"validators" mapstructure:"validators"`
	Peers              []Peer          `json:"peers" mapstructure:"peers"`
	TLS                *TLSConfig      `json:"tls,omitempty" mapstructure:"tls"`
	Consensus          ConsensusTiming `json:"consensus" mapstructure:"consensus"`
	// ValidatorKeys maps a validator id to its hex-encoded ed25519 public
	// key, so HandlePropose can verify leader and transaction signatures
	// when consensus.verify_signatures is true. Unset entries leave that
	// validator's signatures unverifiable (§4.6.2 tolerates this: checking
	// is an opaque, best-effort boundary check).
	ValidatorKeys map[string]string `json:"validator_keys,omitempty" mapstructure:"validator_keys"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:   "node0",
		DataDir:  "./data",
		P2PPort:  7946,
		HTTPPort: 8080,
		LogLevel: "info",
	}
}

// Load reads a JSON config file from path, overlaying it on DefaultConfig,
// and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.HTTPPort != 0 && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("http_port must be 0 (disabled) or 1-65535, got %d", c.HTTPPort)
	}
	if c.HTTPPort == c.P2PPort {
		return fmt.Errorf("http_port and p2p_port must not be the same (%d)", c.P2PPort)
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for id, hexKey := range c.ValidatorKeys {
		if _, err := crypto.PubKeyFromHex(hexKey); err != nil {
			return fmt.Errorf("validator_keys[%s]: %w", id, err)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyTo overlays the non-zero fields of t onto c, leaving c's existing
// values (typically consensus.DefaultConfig()'s) in place where t is zero.
func (t ConsensusTiming) ApplyTo(c *consensus.Config) {
	c.BlockInterval = secondsOr(t.BlockIntervalSeconds, c.BlockInterval)
	c.ProposalTimeout = secondsOr(t.ProposalTimeoutSeconds, c.ProposalTimeout)
	c.HeartbeatInterval = secondsOr(t.HeartbeatIntervalSeconds, c.HeartbeatInterval)
	c.HeartbeatTimeout = secondsOr(t.HeartbeatTimeoutSeconds, c.HeartbeatTimeout)
	c.ReconnectInterval = secondsOr(t.ReconnectIntervalSeconds, c.ReconnectInterval)
	c.RecoveryGracePeriod = secondsOr(t.RecoveryGracePeriodSeconds, c.RecoveryGracePeriod)
	c.ViewChangeCooldown = secondsOr(t.ViewChangeCooldownSeconds, c.ViewChangeCooldown)
	c.MaxBlockSize = intOr(t.MaxBlockSize, c.MaxBlockSize)
	if t.MaxFrameBytes > 0 {
		c.MaxFrameBytes = uint32(t.MaxFrameBytes)
	}
	c.VerifySignatures = t.VerifySignatures
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
