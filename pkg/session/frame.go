package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-proctor/pkg/events"
	"github.com/teslashibe/go-proctor/pkg/gaze"
	"github.com/teslashibe/go-proctor/pkg/objects"
	"github.com/teslashibe/go-proctor/pkg/timequality"
)

// Frame is everything the adapters reported for one inference tick.
type Frame struct {
	At        time.Time
	Gaze      *gaze.Measurement // nil if no pose this tick
	Hits      []objects.Hit
	TabSwitch bool

	// Generation the frame was received under. 0 means current.
	Generation uint64
}

// FrameResult is what one frame produced.
type FrameResult struct {
	Events  []events.Event
	Quality timequality.Snapshot
}

// ProcessFrame applies a full tick. Gaze classification and object
// validation run in parallel; the results are then applied serially in
// the order absence, gaze, objects, tab switch, time quality.
func (e *Engine) ProcessFrame(ctx context.Context, tok TickToken, f Frame) (FrameResult, error) {
	var (
		class gaze.Classification
		valid []objects.Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	if f.Gaze != nil {
		m := *f.Gaze
		g.Go(func() error {
			class = gaze.Classify(m, e.config.Thresholds)
			return gctx.Err()
		})
	}
	if len(f.Hits) > 0 {
		g.Go(func() error {
			valid = objects.Filter(f.Hits, e.config.Objects.MinScore, e.prohibited)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return FrameResult{}, err
	}
	// Cancelled frames are dropped before touching state.
	if err := ctx.Err(); err != nil {
		return FrameResult{}, err
	}

	at := f.At
	if at.IsZero() && f.Gaze != nil {
		at = f.Gaze.SampledAt
	}

	var res FrameResult
	evs, err := e.tick(tok, "frame", func(st *state) ([]events.Event, error) {
		now, err := e.advanceClock(st, at)
		if err != nil {
			return nil, err
		}

		var out []events.Event
		if f.Gaze != nil {
			m := *f.Gaze
			m.SampledAt = now
			out = append(out, st.applyGaze(m, class)...)
		}
		if len(valid) > 0 {
			out = append(out, st.applyObjects(now, valid)...)
		}
		if f.TabSwitch {
			out = append(out, st.applyTabSwitch(now))
		}

		res.Quality = st.quality.Advance(now, st.bucket())
		return out, nil
	})
	if err != nil {
		return FrameResult{}, err
	}
	res.Events = evs
	return res, nil
}

// Run applies frames from in until ctx is cancelled or in is closed.
// It is the single writer for the ingest path: frames are stamped with
// tokens in receive order, and frames from a torn-down session are dropped.
func (e *Engine) Run(ctx context.Context, in <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			tok := e.NextToken()
			if f.Generation != 0 {
				tok.Generation = f.Generation
			}
			if _, err := e.ProcessFrame(ctx, tok, f); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrStaleTick) {
					e.logger.Warn("frame failed", "token", tok.String(), "error", err)
				}
			}
		}
	}
}
