package stresstest

import (
	"context"
	"io"
	"net/http"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

// Options wires a triggered stress run to its result sink.
type Options struct {
	// SendResult delivers the finished report. Leaving it nil only logs the
	// summary.
	SendResult func(context.Context, Report) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleStressTest accepts a run configuration and starts the run in the
// background. An empty body runs the default configuration.
func HandleStressTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Error(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		cfg := DefaultConfig()
		if len(b) != 0 {
			if err := json.Unmarshal(b, &cfg); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		if err := cfg.Validate(); err != nil {
			logs.Warn(err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// cancel a test context on exit to signal the run finished
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			report, err := Run(ctx, cfg)
			if err != nil {
				logs.Warn(err)
				return
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, report); err != nil {
				logs.WithTag("run_id", report.RunID).
					Warn(errors.New("sending stress report failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}
