package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is a topic scoped logger. Debug is only emitted when the topic is
// enabled through DEBUG_TOPICS or logging.topics. Info, Warn and Error follow
// the configured level.
type Logger struct {
	topic string
}

var (
	topicsMu      sync.RWMutex
	enabledTopics = make(map[string]bool)
)

func init() {
	// DEBUG_TOPICS=engine,wfo,gbm or DEBUG_TOPICS=all
	topics := os.Getenv("DEBUG_TOPICS")
	if topics == "" {
		return
	}
	EnableTopics(strings.Split(topics, ",")...)
	if anyTopicEnabled() {
		Setup("debug", "text", os.Stderr)
	}
}

// EnableTopics turns on debug output for topics, "all" enables every topic.
// Loggers created earlier pick the change up.
func EnableTopics(topics ...string) {
	topicsMu.Lock()
	defer topicsMu.Unlock()
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		switch topic {
		case "":
		case "all":
			enabledTopics["*"] = true
		default:
			enabledTopics[topic] = true
		}
	}
}

func anyTopicEnabled() bool {
	topicsMu.RLock()
	defer topicsMu.RUnlock()
	return len(enabledTopics) > 0
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
}

// Setup installs the default slog handler. Unknown levels fall back to info. While
// any debug topic is enabled the handler accepts debug records.
func Setup(level, format string, w io.Writer) {
	lvl, err := ParseLevel(level)
	if anyTopicEnabled() && lvl > slog.LevelDebug {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))

	if err != nil {
		slog.Warn("Falling back to info log level", "error", err)
	}
}

// New creates a new topic-specific logger
// Usage: var engineLog = logging.New("engine")
func New(topic string) *Logger {
	return &Logger{topic: topic}
}

// Debug logs a debug message if this topic is enabled
func (l *Logger) Debug(msg string, args ...any) {
	if !l.Enabled() {
		return
	}
	slog.Debug(msg, l.with(args)...)
}

func (l *Logger) Info(msg string, args ...any) {
	slog.Info(msg, l.with(args)...)
}

func (l *Logger) Warn(msg string, args ...any) {
	slog.Warn(msg, l.with(args)...)
}

func (l *Logger) Error(msg string, args ...any) {
	slog.Error(msg, l.with(args)...)
}

// Enabled returns true if this logger's debug output is enabled
// Useful for expensive computations: if log.Enabled() { ... }
func (l *Logger) Enabled() bool {
	topicsMu.RLock()
	defer topicsMu.RUnlock()
	return enabledTopics["*"] || enabledTopics[l.topic]
}

func (l *Logger) with(args []any) []any {
	return append([]any{"topic", l.topic}, args...)
}
