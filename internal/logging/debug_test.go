package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Creation(t *testing.T) {
	enabledTopics = map[string]bool{"wfo": true}

	enabledLog := New("wfo")
	disabledLog := New("engine")

	assert.True(t, enabledLog.Enabled(), "Logger for enabled topic should be enabled")
	assert.False(t, disabledLog.Enabled(), "Logger for disabled topic should be disabled")
}

func TestLogger_AllTopics(t *testing.T) {
	enabledTopics = map[string]bool{"*": true}

	assert.True(t, New("anything").Enabled(), "All topics should be enabled with wildcard")
	assert.True(t, New("whatever").Enabled(), "All topics should be enabled with wildcard")
}

func TestLogger_WarnIgnoresTopicGate(t *testing.T) {
	enabledTopics = map[string]bool{}
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup("debug", "text", &buf)

	log := New("engine")
	log.Debug("hidden message")
	log.Warn("visible message", "fold", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden message")
	assert.Contains(t, out, "visible message")
	assert.Contains(t, out, "topic=engine")
	assert.Contains(t, out, "fold=3")
}

func TestLogger_InfoFollowsLevel(t *testing.T) {
	enabledTopics = map[string]bool{}
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	log := New("live")

	Setup("info", "text", &buf)
	log.Info("signal published", "symbol", "EUR_USD")
	assert.Contains(t, buf.String(), "signal published", "Info needs no debug topic")
	assert.Contains(t, buf.String(), "topic=live")

	buf.Reset()
	Setup("warn", "text", &buf)
	log.Info("dropped")
	assert.Empty(t, buf.String())
}

func TestEnableTopics(t *testing.T) {
	enabledTopics = map[string]bool{}
	prev := slog.Default()
	defer slog.SetDefault(prev)

	log := New("live")
	assert.False(t, log.Enabled())

	EnableTopics(" live ", "")
	assert.True(t, log.Enabled(), "Existing loggers see newly enabled topics")
	assert.False(t, New("wfo").Enabled())

	var buf bytes.Buffer
	Setup("warn", "text", &buf)
	log.Debug("stop proposed", "ticket", 7)
	assert.Contains(t, buf.String(), "stop proposed", "An enabled topic lowers the handler to debug")

	EnableTopics("all")
	assert.True(t, New("wfo").Enabled())
}

func TestSetup_JSONFormat(t *testing.T) {
	enabledTopics = map[string]bool{}
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	Setup("warn", "json", &buf)

	slog.Info("dropped")
	slog.Warn("kept", "symbol", "EURUSD")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"symbol":"EURUSD"`)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func BenchmarkLogger_Disabled(b *testing.B) {
	enabledTopics = map[string]bool{}
	log := New("benchmark")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Debug("test message", "key", "value", "number", 42)
	}
}
