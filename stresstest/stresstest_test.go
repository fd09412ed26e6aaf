package stresstest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	utests := []struct {
		scenario string
		mutate   func(*Config)
	}{
		{
			scenario: "non-positive entity count",
			mutate:   func(c *Config) { c.EntityCount = 0 },
		},
		{
			scenario: "non-positive world extent",
			mutate:   func(c *Config) { c.WorldExtent = -1 },
		},
		{
			scenario: "non-positive query radius",
			mutate:   func(c *Config) { c.QueryRadius = 0 },
		},
		{
			scenario: "non-positive query rounds",
			mutate:   func(c *Config) { c.QueryRounds = 0 },
		},
		{
			scenario: "non-positive batch size",
			mutate:   func(c *Config) { c.BatchSize = 0 },
		},
		{
			scenario: "move ratio above one",
			mutate:   func(c *Config) { c.MoveRatio = 1.5 },
		},
	}

	for _, u := range utests {
		t.Run(u.scenario, func(t *testing.T) {
			cfg := DefaultConfig()
			u.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidStressConfig, errors.Type(err))
		})
	}
}

func TestRun(t *testing.T) {
	cfg := Config{
		EntityCount: 200,
		WorldExtent: 100,
		QueryRadius: 20,
		QueryRounds: 4,
		BatchSize:   8,
		MoveRatio:   0.5,
		Seed:        7,
	}

	report, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Equal(t, cfg, report.Config)
	require.Equal(t, 200, report.EntitiesAdded)
	require.Equal(t, 400, report.MovesApplied)
	require.Equal(t, 4*(8+1), report.QueriesRun)
	require.Greater(t, report.IndexNodes, 1)
	require.GreaterOrEqual(t, report.Duration, time.Duration(0))
}

func TestRunDeterministicSeed(t *testing.T) {
	cfg := Config{
		EntityCount: 100,
		WorldExtent: 50,
		QueryRadius: 10,
		QueryRounds: 2,
		BatchSize:   4,
		MoveRatio:   0,
		Seed:        42,
	}

	first, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	require.Equal(t, first.EntitiesFound, second.EntitiesFound)
}

func TestRunCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, Config{
		EntityCount: 10,
		WorldExtent: 50,
		QueryRadius: 10,
		QueryRounds: 100,
		BatchSize:   4,
		MoveRatio:   0,
		Seed:        1,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunInvalidConfig(t *testing.T) {
	_, err := Run(context.Background(), Config{})
	require.Error(t, err)
	require.Equal(t, ErrTypeInvalidStressConfig, errors.Type(err))
}

func TestHandleStressTest(t *testing.T) {
	t.Run("stress run success", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ctx = context.WithValue(ctx, testCtxKeyValue, testContext{
			Context: ctx,
			Cancel:  cancel,
		})

		cfg := Config{
			EntityCount: 50,
			WorldExtent: 50,
			QueryRadius: 10,
			QueryRounds: 2,
			BatchSize:   4,
			MoveRatio:   0.2,
			Seed:        3,
		}
		body, err := json.Marshal(cfg)
		require.NoError(t, err)

		reports := make(chan Report, 1)
		handler := HandleStressTest(ctx, Options{
			SendResult: func(_ context.Context, report Report) error {
				reports <- report
				return nil
			},
		})

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/stress-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)

		select {
		case report := <-reports:
			require.Equal(t, 50, report.EntitiesAdded)
			require.Equal(t, cfg, report.Config)
		case <-ctx.Done():
			t.Fatal("stress run did not report in time")
		}
	})

	t.Run("empty body runs defaults", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		// cancel right away: the run aborts, the handler still accepts
		cancel()

		handler := HandleStressTest(ctx, Options{})
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/stress-test", nil))
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		handler := HandleStressTest(context.Background(), Options{})
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/stress-test", bytes.NewReader([]byte("{"))))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid config", func(t *testing.T) {
		body, err := json.Marshal(Config{EntityCount: -1})
		require.NoError(t, err)

		handler := HandleStressTest(context.Background(), Options{})
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/stress-test", bytes.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
