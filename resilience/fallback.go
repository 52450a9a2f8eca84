package resilience

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Envelope is the always-resolved outcome of a wrapped operation. Exactly
// one of the real result or the fallback is in Data; Err records which
// failure occurred when the fallback was used.
type Envelope[T any] struct {
	// Success is true when the operation's own result is in Data.
	Success bool

	// Data holds the result, or the fallback when Success is false.
	Data T

	// Err is the operation's failure, nil on success.
	Err error

	// Degraded is true when Data came from the fallback.
	Degraded bool
}

// WithFallback runs op and converts failure into the fallback value. It
// never propagates an error: the envelope records the outcome instead.
func WithFallback[T any](ctx context.Context, op Operation[T], fallback T) Envelope[T] {
	result, err := op(ctx)
	if err != nil {
		return Envelope[T]{Data: fallback, Err: err, Degraded: true}
	}
	return Envelope[T]{Success: true, Data: result}
}

// WithFallbackFunc is WithFallback with a lazily computed fallback. An error
// from the fallback itself is reported in Err alongside Degraded.
func WithFallbackFunc[T any](ctx context.Context, op Operation[T], fallback Operation[T]) Envelope[T] {
	result, err := op(ctx)
	if err == nil {
		return Envelope[T]{Success: true, Data: result}
	}

	fb, fbErr := fallback(ctx)
	if fbErr != nil {
		return Envelope[T]{Err: fbErr, Degraded: true}
	}
	return Envelope[T]{Data: fb, Err: err, Degraded: true}
}

// WeightedSource is one provider contributing to a merged result.
type WeightedSource struct {
	// Name identifies the source in logs and tests.
	Name string

	// Op fetches this source's partial result.
	Op Operation[map[string]any]

	// Weight is the source's share in weighted averages. Must be > 0.
	Weight float64
}

// WithGracefulDegradation fetches every source concurrently and merges the
// partial results into a best-effort composite. Failed sources are skipped,
// not fatal. Numeric leaf fields present on both sides merge as the running
// weighted average (existing*w1 + new*w2) / (w1+w2); nested objects merge
// recursively; anything else keeps the first successful source's value.
// Only when every source fails is the fallback returned, with
// ErrAllSourcesFailed alongside.
func WithGracefulDegradation(ctx context.Context, sources []WeightedSource, fallback map[string]any) (map[string]any, error) {
	results := make([]map[string]any, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sources {
		g.Go(func() error {
			results[i], errs[i] = s.Op(gctx)
			// Source failures are recorded, never returned: one bad
			// provider must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	// Merge in declared order so the "first success" rule is deterministic.
	var merged map[string]any
	var weight float64
	for i, s := range sources {
		if errs[i] != nil || results[i] == nil {
			continue
		}
		if merged == nil {
			merged = cloneTree(results[i])
			weight = s.Weight
			continue
		}
		merged = mergeWeighted(merged, weight, results[i], s.Weight)
		weight += s.Weight
	}

	if merged == nil {
		return fallback, ErrAllSourcesFailed
	}
	return merged, nil
}

// mergeWeighted folds incoming into existing. ew and iw are the cumulative
// weight behind existing and the incoming source's weight.
func mergeWeighted(existing map[string]any, ew float64, incoming map[string]any, iw float64) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}

	for k, nv := range incoming {
		ov, ok := out[k]
		if !ok {
			out[k] = cloneValue(nv)
			continue
		}

		of, oNum := toFloat(ov)
		nf, nNum := toFloat(nv)
		switch {
		case oNum && nNum:
			out[k] = (of*ew + nf*iw) / (ew + iw)
		default:
			om, oMap := ov.(map[string]any)
			nm, nMap := nv.(map[string]any)
			if oMap && nMap {
				out[k] = mergeWeighted(om, ew, nm, iw)
			}
			// Otherwise the earlier success wins.
		}
	}
	return out
}

func cloneTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		return cloneTree(m)
	}
	return v
}

// toFloat widens the numeric types JSON decoding and hand-built results
// produce into float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
