package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwtly10/fxbot/internal/model"
)

const (
	modelFile    = "model.json"
	metadataFile = "metadata.json"
	stampLayout  = "20060102_150405"
)

// Metadata describes a saved model. Name is the artifact directory,
// {symbol}_{timeframe}_{YYYYMMDD_HHMMSS}.
type Metadata struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Symbol        string             `json:"symbol"`
	Timeframe     string             `json:"timeframe"`
	Mode          model.Mode         `json:"mode"`
	CreatedAt     time.Time          `json:"created_at"`
	FeatureNames  []string           `json:"feature_names"`
	NumFeatures   int                `json:"num_features"`
	BestIteration int                `json:"best_iteration"`
	Metrics       model.TrainMetrics `json:"metrics"`
}

type Registry struct {
	store ArtifactStore
	now   func() time.Time
}

func New(store ArtifactStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Save writes the booster and its metadata under a new timestamped name.
func (r *Registry) Save(ctx context.Context, b *model.Booster, metrics model.TrainMetrics, symbol, timeframe string) (Metadata, error) {
	created := r.now().UTC()
	meta := Metadata{
		ID:            uuid.New().String(),
		Name:          fmt.Sprintf("%s_%s_%s", symbol, timeframe, created.Format(stampLayout)),
		Symbol:        symbol,
		Timeframe:     timeframe,
		Mode:          b.Mode(),
		CreatedAt:     created,
		FeatureNames:  b.FeatureNames(),
		NumFeatures:   len(b.FeatureNames()),
		BestIteration: b.BestIteration,
		Metrics:       metrics,
	}

	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		return Metadata{}, err
	}
	if err := r.store.Put(ctx, path.Join(meta.Name, modelFile), buf.Bytes()); err != nil {
		return Metadata{}, err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := r.store.Put(ctx, path.Join(meta.Name, metadataFile), data); err != nil {
		return Metadata{}, err
	}

	slog.Info("Saved model", "name", meta.Name, "id", meta.ID, "features", meta.NumFeatures)
	return meta, nil
}

func (r *Registry) Load(ctx context.Context, name string) (*model.Booster, Metadata, error) {
	meta, err := r.metadata(ctx, name)
	if err != nil {
		return nil, Metadata{}, err
	}
	data, err := r.store.Get(ctx, path.Join(name, modelFile))
	if err != nil {
		return nil, Metadata{}, err
	}
	b, err := model.LoadBooster(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("failed to load model %s: %w", name, err)
	}

	slog.Info("Loaded model", "name", name, "features", meta.NumFeatures)
	return b, meta, nil
}

// FindLatest returns the newest model saved for symbol and timeframe.
func (r *Registry) FindLatest(ctx context.Context, symbol, timeframe string) (Metadata, error) {
	names, err := r.names(ctx, fmt.Sprintf("%s_%s_", symbol, timeframe))
	if err != nil {
		return Metadata{}, err
	}
	if len(names) == 0 {
		return Metadata{}, fmt.Errorf("%w: no model for %s %s", ErrNotFound, symbol, timeframe)
	}
	return r.metadata(ctx, names[0])
}

// List returns the metadata of every saved model, newest name first.
func (r *Registry) List(ctx context.Context) ([]Metadata, error) {
	names, err := r.names(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(names))
	for _, name := range names {
		meta, err := r.metadata(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

func (r *Registry) metadata(ctx context.Context, name string) (Metadata, error) {
	data, err := r.store.Get(ctx, path.Join(name, metadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode metadata for %s: %w", name, err)
	}
	return meta, nil
}

// names lists model directories with a metadata file whose name starts with
// prefix, newest first. The timestamp suffix sorts lexically.
func (r *Registry) names(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, key := range keys {
		dir, file := path.Split(key)
		if file != metadataFile {
			continue
		}
		dir = strings.TrimSuffix(dir, "/")
		if dir == "" || strings.Contains(dir, "/") {
			continue
		}
		names = append(names, dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
