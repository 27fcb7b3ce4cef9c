package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumlayer/valnet/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	require.Equal(t, 4*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 10*time.Second, cfg.HeartbeatDeadline)
	require.Equal(t, uint32(16*1024*1024), cfg.MaxFrameSize)
	require.Equal(t, 1*time.Second, cfg.BackoffBase)
	require.Equal(t, 2.0, cfg.BackoffFactor)
	require.Equal(t, 60*time.Second, cfg.BackoffCap)
	require.Equal(t, 0.20, cfg.BackoffJitter)
	require.Zero(t, cfg.RebroadcastFanout)
}

func TestRebroadcastFanoutFor(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		n    int
		want int
	}{
		{"default derives min(3, n-1)", config.Default(), 10, 3},
		{"small session caps below 3", config.Default(), 3, 2},
		{"single other participant", config.Default(), 2, 1},
		{"solo session never negative", config.Default(), 1, 0},
		{"explicit override below default cap", configWith(func(c *config.Config) { c.RebroadcastFanout = 1 }), 10, 1},
		{"explicit override still capped by n-1", configWith(func(c *config.Config) { c.RebroadcastFanout = 5 }), 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.cfg.RebroadcastFanoutFor(tc.n))
		})
	}
}

func configWith(f func(*config.Config)) config.Config {
	cfg := config.Default()
	f(&cfg)
	return cfg
}

func TestParseAppliesRecognizedKeys(t *testing.T) {
	input := strings.Join([]string{
		"# a bootstrap file comment",
		"",
		"handshake_timeout_ms=500",
		"heartbeat_interval_ms=250",
		"heartbeat_deadline_ms=1000",
		"max_frame_size=2048",
		"backoff_base_ms=100",
		"backoff_factor=1.5",
		"backoff_cap_ms=5000",
		"backoff_jitter=0.1",
		"rebroadcast_fanout=2",
		"discovery_rate_limit=7.5",
		"discovery_rate_burst=20",
	}, "\n")

	cfg, err := config.Parse(config.Default(), strings.NewReader(input))
	require.NoError(t, err)

	require.Equal(t, 500*time.Millisecond, cfg.HandshakeTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	require.Equal(t, 1000*time.Millisecond, cfg.HeartbeatDeadline)
	require.Equal(t, uint32(2048), cfg.MaxFrameSize)
	require.Equal(t, 100*time.Millisecond, cfg.BackoffBase)
	require.Equal(t, 1.5, cfg.BackoffFactor)
	require.Equal(t, 5000*time.Millisecond, cfg.BackoffCap)
	require.Equal(t, 0.1, cfg.BackoffJitter)
	require.Equal(t, 2, cfg.RebroadcastFanout)
	require.Equal(t, 7.5, cfg.DiscoveryRateLimit)
	require.Equal(t, 20, cfg.DiscoveryRateBurst)
}

func TestParseLeavesUnsetKeysAtBase(t *testing.T) {
	base := config.Default()
	base.RebroadcastFanout = 9

	cfg, err := config.Parse(base, strings.NewReader("heartbeat_interval_ms=1\n"))
	require.NoError(t, err)
	require.Equal(t, 1*time.Millisecond, cfg.HeartbeatInterval)
	require.Equal(t, 9, cfg.RebroadcastFanout)
}

func TestParseIgnoresBlankLinesAndComments(t *testing.T) {
	cfg, err := config.Parse(config.Default(), strings.NewReader("\n# nothing here\n\n"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestParseRejectsMissingEquals(t *testing.T) {
	_, err := config.Parse(config.Default(), strings.NewReader("this is not a key value line"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
}

func TestParseRejectsUnrecognizedKey(t *testing.T) {
	_, err := config.Parse(config.Default(), strings.NewReader("not_a_real_key=1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unrecognized key")
}

func TestParseRejectsMalformedValue(t *testing.T) {
	_, err := config.Parse(config.Default(), strings.NewReader("backoff_factor=not-a-float\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
}
