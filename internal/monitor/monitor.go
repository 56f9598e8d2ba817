package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/tradelog"
)

var log = logging.New("monitor")

// MetricsSource is the part of the trade log the monitor reads.
type MetricsSource interface {
	RollingMetrics(ctx context.Context, window int) (tradelog.RollingMetrics, error)
}

type Health struct {
	Healthy  bool                    `json:"healthy"`
	Warnings []string                `json:"warnings"`
	Metrics  tradelog.RollingMetrics `json:"metrics"`
}

// Monitor watches the rolling performance of closed trades for model decay.
type Monitor struct {
	source MetricsSource
	cfg    config.RetrainingConfig
}

func New(source MetricsSource, cfg config.RetrainingConfig) *Monitor {
	return &Monitor{source: source, cfg: cfg}
}

// Check compares the last window closed trades against the thresholds. With fewer
// trades than the window the model is reported healthy with a data warning.
func (m *Monitor) Check(ctx context.Context) (Health, error) {
	metrics, err := m.source.RollingMetrics(ctx, m.cfg.MonitorWindow)
	if err != nil {
		return Health{}, fmt.Errorf("failed to read rolling metrics: %w", err)
	}

	if metrics.Count < m.cfg.MonitorWindow {
		return Health{
			Healthy:  true,
			Warnings: []string{fmt.Sprintf("insufficient data: %d/%d trades", metrics.Count, m.cfg.MonitorWindow)},
			Metrics:  metrics,
		}, nil
	}

	warnings := []string{}
	if metrics.WinRate < m.cfg.MinWinRate {
		warnings = append(warnings, fmt.Sprintf("win rate %.1f%% below %.1f%%", metrics.WinRate*100, m.cfg.MinWinRate*100))
	}
	if metrics.Sharpe < m.cfg.MinSharpe {
		warnings = append(warnings, fmt.Sprintf("sharpe %.2f below %.2f", metrics.Sharpe, m.cfg.MinSharpe))
	}

	for _, w := range warnings {
		log.Warn("Model degradation detected", "warning", w)
	}

	return Health{Healthy: len(warnings) == 0, Warnings: warnings, Metrics: metrics}, nil
}

// ShouldRetrain is true once the retraining interval has passed since lastTrained,
// or whenever the model is unhealthy. Disabled retraining never triggers.
func (m *Monitor) ShouldRetrain(ctx context.Context, lastTrained, now time.Time) (bool, error) {
	if !m.cfg.Enabled {
		return false, nil
	}
	if now.Sub(lastTrained) >= time.Duration(m.cfg.IntervalHours)*time.Hour {
		log.Info("Retraining interval elapsed", "last_trained", lastTrained)
		return true, nil
	}

	h, err := m.Check(ctx)
	if err != nil {
		return false, err
	}
	return !h.Healthy, nil
}
