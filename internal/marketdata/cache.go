package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jwtly10/fxbot/internal/features"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("marketdata")

var header = []string{"datetime", "open", "high", "low", "close", "volume"}

// FetchFunc returns the latest count completed bars of a symbol.
type FetchFunc func(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.Bar, error)

// Cache stores OHLCV bars as one CSV file per symbol and timeframe.
type Cache struct {
	dir string
}

func NewCache(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) Path(symbol string, tf types.Timeframe) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.csv", symbol, tf))
}

// Load reads the cached bars. A missing file is an empty cache, not an error.
func (c *Cache) Load(symbol string, tf types.Timeframe) ([]types.Bar, error) {
	f, err := os.Open(c.Path(symbol, tf))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.Path(symbol, tf), err)
	}
	log.Debug("Loaded cached bars", "symbol", symbol, "timeframe", tf, "bars", len(bars))
	return bars, nil
}

func (c *Cache) Save(symbol string, tf types.Timeframe, bars []types.Bar) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	path := c.Path(symbol, tf)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, bars); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	log.Info("Saved bars", "path", path, "bars", len(bars))
	return nil
}

// LoadMulti loads every cached timeframe of a symbol. Timeframes without a cache
// file are left out.
func (c *Cache) LoadMulti(symbol string, timeframes []types.Timeframe) (features.MultiTimeframe, error) {
	out := features.MultiTimeframe{}
	for _, tf := range timeframes {
		bars, err := c.Load(symbol, tf)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			log.Warn("No cached bars", "symbol", symbol, "timeframe", tf)
			continue
		}
		out[tf] = bars
	}
	return out, nil
}

// FetchAndCache merges freshly fetched bars into the cache and returns the merged
// series. When the fetch returns nothing the cached bars are returned unchanged.
func (c *Cache) FetchAndCache(ctx context.Context, fetch FetchFunc, symbol string, tf types.Timeframe, count int) ([]types.Bar, error) {
	cached, err := c.Load(symbol, tf)
	if err != nil {
		return nil, err
	}
	fresh, err := fetch(ctx, symbol, tf, count)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return cached, nil
	}

	merged := Merge(cached, fresh)
	if err := c.Save(symbol, tf, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines two bar series ordered by time. Bars of b replace bars of a with
// the same timestamp.
func Merge(a, b []types.Bar) []types.Bar {
	byTime := make(map[int64]types.Bar, len(a)+len(b))
	for _, bar := range a {
		byTime[bar.Timestamp.Unix()] = bar
	}
	for _, bar := range b {
		byTime[bar.Timestamp.Unix()] = bar
	}

	out := make([]types.Bar, 0, len(byTime))
	for _, bar := range byTime {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func WriteCSV(w io.Writer, bars []types.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range bars {
		err := cw.Write([]string{
			b.Timestamp.UTC().Format(time.RFC3339),
			formatF(b.Open), formatF(b.High), formatF(b.Low), formatF(b.Close), formatF(b.Volume),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses bars written by WriteCSV. The header row is required.
func ReadCSV(r io.Reader) ([]types.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	var bars []types.Bar
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		bar, err := parseRecord(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRecord(rec []string) (types.Bar, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return types.Bar{}, err
	}
	values := make([]float64, 5)
	for i := range values {
		values[i], err = strconv.ParseFloat(rec[i+1], 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("invalid %s value %q", header[i+1], rec[i+1])
		}
	}
	return types.Bar{
		Timestamp: ts.UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
