package registry

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/model"
)

func stubBooster() *model.Booster {
	return &model.Booster{
		ModelMode:    model.ModeRegression,
		Features:     []string{"rsi_14", "atr_14_norm"},
		NumClass:     1,
		BaseScore:    []float64{0.0001},
		LearningRate: 0.1,
		Trees: [][]model.Tree{{{Nodes: []model.Node{
			{Feature: 0, Threshold: 50, Left: 1, Right: 2, Value: 0},
			{Value: -0.001, Leaf: true},
			{Value: 0.002, Leaf: true},
		}}}},
		BestIteration: 1,
	}
}

func clockAt(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		i++
		return t
	}
}

func TestRegistry_SaveLoadFindLatest(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	reg := New(store)
	reg.now = clockAt(
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC),
	)
	ctx := context.Background()

	first, err := reg.Save(ctx, stubBooster(), model.TrainMetrics{MAE: 0.001}, "EUR_USD", "M5")
	require.NoError(t, err)
	assert.Equal(t, "EUR_USD_M5_20240301_090000", first.Name)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 2, first.NumFeatures)

	second, err := reg.Save(ctx, stubBooster(), model.TrainMetrics{MAE: 0.0005}, "EUR_USD", "M5")
	require.NoError(t, err)
	_, err = reg.Save(ctx, stubBooster(), model.TrainMetrics{}, "GBP_USD", "M5")
	require.NoError(t, err)

	latest, err := reg.FindLatest(ctx, "EUR_USD", "M5")
	require.NoError(t, err)
	assert.Equal(t, second.Name, latest.Name)
	assert.Equal(t, 0.0005, latest.Metrics.MAE)

	b, meta, err := reg.Load(ctx, latest.Name)
	require.NoError(t, err)
	assert.Equal(t, second.ID, meta.ID)
	assert.InDelta(t, 0.0003, b.PredictRow([]float64{70, 0}).Value, 1e-12)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "GBP_USD_M5_20240303_090000", all[0].Name)
}

func TestRegistry_NotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	reg := New(store)

	_, err = reg.FindLatest(context.Background(), "EUR_USD", "M5")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = reg.Load(context.Background(), "EUR_USD_M5_20240101_000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

// fakeS3 keeps objects in memory. Only the calls S3Store makes are implemented.
type fakeS3 struct {
	s3iface.S3API
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestS3Store_RoundTripsThroughRegistry(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3StoreWithClient(fake, "fx-models", "/models/")

	reg := New(store)
	reg.now = clockAt(time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC))
	ctx := context.Background()

	saved, err := reg.Save(ctx, stubBooster(), model.TrainMetrics{}, "USD_JPY", "M5")
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "models/USD_JPY_M5_20240501_123000/model.json")

	latest, err := reg.FindLatest(ctx, "USD_JPY", "M5")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, latest.ID)

	_, err = store.Get(ctx, "nope/model.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
