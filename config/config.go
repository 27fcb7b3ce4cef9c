// Package config holds the tunable parameters spec §9's Open
// Questions left for an implementer to fix, loaded the way
// device/uapi.go's IpcSetOperation parses WireGuard's UAPI key=value
// lines with a bufio.Scanner — here applied to a small line-oriented
// bootstrap file instead of an IPC pipe, since this core has no
// daemon/IPC surface of its own.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Config collects every tunable this module needs. Defaults match the
// spec's illustrative constants.
type Config struct {
	// HandshakeTimeout bounds how long a handshake attempt may run
	// before failing with handshake.ErrTimeout.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is how often a heartbeat sender emits a
	// sentinel frame.
	HeartbeatInterval time.Duration

	// HeartbeatDeadline is how long a heartbeat receiver tolerates
	// silence before declaring cardiac arrest.
	HeartbeatDeadline time.Duration

	// MaxFrameSize bounds a single frame's payload. Parsed and
	// validated here for a deployment's record-keeping, but wire's own
	// MaxFrameSize constant is the enforced limit: §6 fixes 16 MiB as a
	// wire-protocol invariant every validator on the network must
	// agree on, not a per-deployment tunable, so a value configured
	// here that disagreed with the wire constant would just make this
	// node unable to talk to the rest of the network.
	MaxFrameSize uint32

	// BackoffBase, BackoffFactor, BackoffCap, BackoffJitter parameterize
	// the outgoing dialer's exponential backoff (spec §4.7.1).
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration
	BackoffJitter float64

	// RebroadcastFanout is the discovery component's send-to-random-k
	// policy parameter. Zero means "derive min(3, n-1) per session".
	RebroadcastFanout int

	// DiscoveryRateLimit bounds how many discovery messages per second
	// the discovery component accepts from a single peer.
	DiscoveryRateLimit float64
	DiscoveryRateBurst int
}

// Default returns the spec's illustrative defaults.
func Default() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		HeartbeatInterval:  4 * time.Second,
		HeartbeatDeadline:  10 * time.Second,
		MaxFrameSize:       16 * 1024 * 1024,
		BackoffBase:        1 * time.Second,
		BackoffFactor:      2.0,
		BackoffCap:         60 * time.Second,
		BackoffJitter:      0.20,
		RebroadcastFanout:  0,
		DiscoveryRateLimit: 5,
		DiscoveryRateBurst: 10,
	}
}

// RebroadcastFanoutFor resolves the configured fanout against a
// session of n participants, applying the spec's default of
// min(3, n-1) when RebroadcastFanout is zero.
func (c Config) RebroadcastFanoutFor(n int) int {
	k := c.RebroadcastFanout
	if k == 0 {
		k = 3
	}
	if n-1 < k {
		k = n - 1
	}
	if k < 0 {
		k = 0
	}
	return k
}

// Parse reads line-oriented `key=value` pairs, the same shape as
// device/uapi.go's UAPI parser, and applies recognized keys onto a
// copy of base.
func Parse(base Config, r io.Reader) (Config, error) {
	cfg := base
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, fmt.Errorf("config: line %d: missing '='", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := apply(&cfg, key, value); err != nil {
			return cfg, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: scan: %w", err)
	}
	return cfg, nil
}

func apply(cfg *Config, key, value string) error {
	switch key {
	case "handshake_timeout_ms":
		return setDuration(&cfg.HandshakeTimeout, value)
	case "heartbeat_interval_ms":
		return setDuration(&cfg.HeartbeatInterval, value)
	case "heartbeat_deadline_ms":
		return setDuration(&cfg.HeartbeatDeadline, value)
	case "max_frame_size":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.MaxFrameSize = uint32(n)
	case "backoff_base_ms":
		return setDuration(&cfg.BackoffBase, value)
	case "backoff_factor":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.BackoffFactor = f
	case "backoff_cap_ms":
		return setDuration(&cfg.BackoffCap, value)
	case "backoff_jitter":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.BackoffJitter = f
	case "rebroadcast_fanout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RebroadcastFanout = n
	case "discovery_rate_limit":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.DiscoveryRateLimit = f
	case "discovery_rate_burst":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.DiscoveryRateBurst = n
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return nil
}

func setDuration(dst *time.Duration, value string) error {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
