package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfusion-server/internal/domain"
	"github.com/medfusion-server/pkg/scorer"
)

type fakeGateway struct {
	result *scorer.Result
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeGateway) Score(ctx context.Context, modality domain.Modality, payload []byte) (*scorer.Result, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestAdapterMapsScorerResultToSignal(t *testing.T) {
	gateway := &fakeGateway{result: &scorer.Result{
		Probabilities: map[string]float64{"PNEUMONIA": 0.9, "NORMAL": 0.1},
		Confidence:    0.8,
		RegionHints: []domain.RegionHint{
			{Kind: "bounding_box", Label: "left lower lobe", X0: 0.1, Y0: 0.2, X1: 0.4, Y1: 0.5},
		},
	}}
	a := New(domain.IMAGE, gateway, time.Second, testLogger())

	signal, err := a.Score(context.Background(), []byte("image-bytes"))
	require.NoError(t, err)

	assert.True(t, signal.Valid)
	assert.Equal(t, domain.IMAGE, signal.Modality)
	assert.InDelta(t, 0.9, signal.ClassProbabilities["PNEUMONIA"], 1e-9)
	assert.InDelta(t, 0.8, signal.Confidence, 1e-9)
	require.Len(t, signal.RegionHints, 1)
	assert.Equal(t, "left lower lobe", signal.RegionHints[0].Label)
}

func TestAdapterTimeoutProducesInvalidSignal(t *testing.T) {
	gateway := &fakeGateway{delay: 200 * time.Millisecond}
	logger, hook := logtest.NewNullLogger()
	a := New(domain.AUDIO, gateway, 20*time.Millisecond, logger)

	signal, err := a.Score(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.False(t, signal.Valid)
	assert.Equal(t, domain.AUDIO, signal.Modality)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	logged, ok := entry.Data[logrus.ErrorKey].(error)
	require.True(t, ok)
	assert.ErrorIs(t, logged, domain.ErrModalityTimeout)
}

func TestAdapterUnprocessableProducesInvalidSignal(t *testing.T) {
	gateway := &fakeGateway{result: &scorer.Result{Unprocessable: true, Reason: "corrupt JPEG"}}
	a := New(domain.IMAGE, gateway, time.Second, testLogger())

	signal, err := a.Score(context.Background(), []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.False(t, signal.Valid)
}

func TestAdapterUnreachableScorerIsFatal(t *testing.T) {
	gateway := &fakeGateway{err: scorer.ErrUnavailable}
	a := New(domain.EHR, gateway, time.Second, testLogger())

	_, err := a.Score(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var unavailable *domain.ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, domain.EHR, unavailable.Modality)
}

func TestAdapterMalformedDistributionDowngradesToInvalid(t *testing.T) {
	gateway := &fakeGateway{result: &scorer.Result{
		Probabilities: map[string]float64{"PNEUMONIA": 0.9, "NORMAL": 0.4},
		Confidence:    0.7,
	}}
	a := New(domain.IMAGE, gateway, time.Second, testLogger())

	signal, err := a.Score(context.Background(), []byte("image"))
	require.NoError(t, err)
	assert.False(t, signal.Valid)
}

func TestAdapterCallerCancellationPropagates(t *testing.T) {
	gateway := &fakeGateway{delay: time.Second}
	a := New(domain.IMAGE, gateway, 5*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Score(ctx, []byte("image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewAllCoversEveryModality(t *testing.T) {
	config := domain.ScorersConfig{
		Image: domain.ScorerConfig{Timeout: time.Second},
		Audio: domain.ScorerConfig{Timeout: time.Second},
		EHR:   domain.ScorerConfig{Timeout: time.Second},
	}
	adapters := NewAll(config, &fakeGateway{}, testLogger())

	require.Len(t, adapters, len(domain.AllModalities))
	for _, m := range domain.AllModalities {
		require.Contains(t, adapters, m)
		assert.Equal(t, m, adapters[m].Modality())
	}
}
