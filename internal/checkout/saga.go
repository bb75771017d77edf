package checkout

import (
	"context"
	"log/slog"
)

// step pairs a forward action with its compensating action. Compensation
// runs only for steps whose run already succeeded.
type step struct {
	name       string
	run        func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runSaga executes steps in order. On failure it compensates every
// already-succeeded step in reverse order and returns the original
// failure. Compensation errors are logged, never propagated: the caller
// must always see the step error that broke the checkout.
func runSaga(ctx context.Context, logger *slog.Logger, steps []step) error {
	done := 0
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			for i := done - 1; i >= 0; i-- {
				c := steps[i]
				if c.compensate == nil {
					continue
				}
				if cerr := c.compensate(ctx); cerr != nil {
					logger.ErrorContext(ctx, "saga compensation failed",
						slog.String("step", c.name),
						slog.String("error", cerr.Error()),
					)
				}
			}
			return err
		}
		done++
	}
	return nil
}
