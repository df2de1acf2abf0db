package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Log.File.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9091", cfg.Metrics.Listen)
	assert.Equal(t, 16, cfg.Watchdog.QueueSize)
	assert.False(t, cfg.Watchdog.KeepUnclaimed)
	assert.Equal(t, "rpl/findings", cfg.MQTT.Topic)
	assert.Equal(t, "low", cfg.Findings.MinSeverity)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Feed.Sniffers)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log:
  level: debug
  format: json
watchdog:
  queue_size: 64
  keep_unclaimed: true
  lifetime_interval: 1s
feed:
  sniffers:
    - name: br-1
      url: ws://br-1:8080/rpl
      iface: wpan0
    - url: ws://br-2:8080/rpl
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
  topic: findings
state:
  file: /etc/rpl-watchdog/state.yaml
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 64, cfg.Watchdog.QueueSize)
	assert.True(t, cfg.Watchdog.KeepUnclaimed)
	assert.Equal(t, time.Second, cfg.Watchdog.LifetimeInterval)
	require.Len(t, cfg.Feed.Sniffers, 2)
	assert.Equal(t, "wpan0", cfg.Feed.Sniffers[0].Iface)
	assert.Equal(t, "sniffer-1", cfg.Feed.Sniffers[1].Name, "unnamed sniffers get a default name")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/etc/rpl-watchdog/state.yaml", cfg.State.File)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RPL_WATCHDOG_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RPL_WATCHDOG_WATCHDOG_QUEUE_SIZE", "32")
	t.Setenv("RPL_WATCHDOG_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 32, cfg.Watchdog.QueueSize)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"log level", "log:\n  level: loud\n", "invalid log level"},
		{"log format", "log:\n  format: xml\n", "invalid log format"},
		{"queue size", "watchdog:\n  queue_size: 0\n", "queue_size must be positive"},
		{"severity", "findings:\n  min_severity: urgent\n", "min_severity"},
		{"sniffer url", "feed:\n  sniffers:\n    - name: br-1\n", "url is required"},
		{"security prefix", "security:\n  enabled: true\n  dodag_prefix: nope\n", "security.dodag_prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_KafkaTopic(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Kafka = sink.KafkaConfig{Brokers: []string{"k1:9092"}}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.topic is required")
}

func TestParseState(t *testing.T) {
	instances, err := ParseState(strings.NewReader(`
instances:
  - id: 1
    mop: 2
    dodag:
      id: 2001:db8::1
      version: 240
      my_rank: 512
      dtsn: 3
      parents:
        - {addr: "fe80::1", rank: 256, dtsn: 2}
  - id: 2
    active: false
    min_hop_rank_inc: 128
    dodag:
      status: root
`))
	require.NoError(t, err)
	require.Len(t, instances, 2)

	first := instances[0]
	assert.True(t, first.Active())
	assert.Equal(t, uint8(1), first.ID)
	assert.Equal(t, uint16(rpl.DefaultMinHopRankIncrease), first.MinHopRankInc)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), first.DODAG.ID)
	assert.Equal(t, uint8(240), first.DODAG.Version)
	assert.Equal(t, uint16(512), first.DODAG.MyRank)
	assert.Equal(t, rpl.NodeNormal, first.DODAG.NodeStatus)
	assert.Equal(t, []rpl.Parent{{Addr: netip.MustParseAddr("fe80::1"), Rank: 256, DTSN: 2}}, first.DODAG.Parents)

	second := instances[1]
	assert.False(t, second.Active())
	assert.Equal(t, uint16(128), second.MinHopRankInc)
	assert.Equal(t, rpl.RootNode, second.DODAG.NodeStatus)
}

func TestParseState_Errors(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"status", "instances:\n  - id: 1\n    dodag: {status: sleepy}\n"},
		{"dodag id", "instances:\n  - id: 1\n    dodag: {id: nope}\n"},
		{"parent", "instances:\n  - id: 1\n    dodag:\n      parents: [{addr: nope}]\n"},
		{"unknown field", "instances:\n  - id: 1\n    colour: red\n"},
		{"range", "instances:\n  - id: 300\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseState(strings.NewReader(tt.state))
			assert.Error(t, err)
		})
	}

	instances, err := ParseState(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, instances)

	_, err = LoadState("/nonexistent/state.yaml")
	assert.Error(t, err)
}
