package tradelog

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps the trade log in process. Used for backtests, tests and when
// no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) LogEntry(_ context.Context, e Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, e)

	log.Info("Logged trade entry", "id", e.ID, "symbol", e.Symbol, "direction", e.Direction, "price", e.EntryPrice, "lot", e.Lot)
	return e.ID, nil
}

func (s *MemoryStore) UpdateStop(_ context.Context, ticket int64, sl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := false
	for i := range s.entries {
		if e := &s.entries[i]; e.Ticket == ticket && e.Open() {
			e.SL = sl
			updated = true
		}
	}
	if !updated {
		return ErrNotFound
	}
	log.Info("Updated stop loss", "ticket", ticket, "sl", sl)
	return nil
}

func (s *MemoryStore) LogExit(_ context.Context, x Exit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := false
	for i := range s.entries {
		e := &s.entries[i]
		if e.Ticket != x.Ticket || !e.Open() {
			continue
		}
		price, t, reason, pnl := x.Price, x.Time, x.Reason, x.PnL
		e.ExitPrice, e.ExitTime, e.ExitReason, e.PnL = &price, &t, &reason, &pnl
		updated = true
	}
	if !updated {
		return ErrNotFound
	}

	log.Info("Logged trade exit", "ticket", x.Ticket, "reason", x.Reason, "pnl", x.PnL)
	return nil
}

func (s *MemoryStore) OpenTrades(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Entry{}
	for _, e := range s.entries {
		if e.Open() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) RecentTrades(_ context.Context, limit int, symbols []string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Entry{}
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if len(symbols) > 0 && !slices.Contains(symbols, e.Symbol) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) All(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries), nil
}

func (s *MemoryStore) RollingMetrics(_ context.Context, window int) (RollingMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pnls []float64
	for i := len(s.entries) - 1; i >= 0 && len(pnls) < window; i-- {
		if p := s.entries[i].PnL; p != nil {
			pnls = append(pnls, *p)
		}
	}
	return Rolling(pnls), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
