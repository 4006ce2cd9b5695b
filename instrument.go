package xray

import "context"

// WrapStep wraps a function so every invocation is recorded as a step
// on the session, capturing the input, the output on success, and the
// error message on failure. The wrapped function's result is always
// returned unchanged; a failure to record the step never alters it.
func WrapStep[In, Out any](s *Session, name string, fn func(ctx context.Context, in In) (Out, error)) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		out, err := fn(ctx, in)

		recordErr := s.Step(ctx, name, func(b *StepBuilder) error {
			b.Input(in)
			if err != nil {
				b.Metadata(map[string]any{"error": err.Error()})
			} else {
				b.Output(out)
			}
			return nil
		})
		if recordErr != nil {
			s.logger.Error("xray: failed to record wrapped step", "step", name, "error", recordErr)
		}

		return out, err
	}
}
