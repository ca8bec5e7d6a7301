package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/twin/internal/breaker"
	"github.com/kalambet/twin/internal/metrics"
)

type link struct {
	t  Transcriber
	cb *gobreaker.CircuitBreaker[Transcript]
}

// Chain holds transcribers in rank order, each behind its own circuit breaker.
type Chain struct {
	links   []link
	metrics *metrics.Metrics
}

// NewChain ranks ts in the given order. m may be nil.
func NewChain(s breaker.Settings, m *metrics.Metrics, ts ...Transcriber) *Chain {
	c := &Chain{metrics: m}
	for _, t := range ts {
		if t == nil {
			continue
		}
		c.links = append(c.links, link{t: t, cb: breaker.New[Transcript]("stt:"+t.Name(), s)})
	}
	return c
}

// Len returns the number of configured providers.
func (c *Chain) Len() int { return len(c.links) }

// Transcribe asks providers in rank order until one answers with at least
// minConfidence, skipping providers whose circuit is open. The most confident
// non-empty transcript seen is returned.
func (c *Chain) Transcribe(ctx context.Context, a Audio, opts Options, minConfidence float64) (Transcript, error) {
	if len(c.links) == 0 {
		return Transcript{}, errors.New("no transcribers configured")
	}

	var best Transcript
	var errs []error

	for _, l := range c.links {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		name := l.t.Name()
		tr, err := l.cb.Execute(func() (Transcript, error) {
			tr, err := l.t.Transcribe(ctx, a, opts)
			if err == nil && tr.Text == "" {
				// Silence is a valid answer, not a provider fault.
				return tr, nil
			}
			return tr, err
		})
		switch {
		case breaker.IsOpen(err):
			c.metrics.RecordProvider("stt", name, "circuit_open")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		case err != nil:
			c.metrics.RecordProvider("stt", name, "error")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		case tr.Text == "":
			c.metrics.RecordProvider("stt", name, "empty")
			continue
		}

		tr.Provider = name
		if best.Text == "" || tr.Confidence > best.Confidence {
			best = tr
		}
		if tr.Confidence >= minConfidence {
			c.metrics.RecordProvider("stt", name, "ok")
			break
		}
		c.metrics.RecordProvider("stt", name, "low_confidence")
	}

	if best.Text != "" {
		return best, nil
	}
	if len(errs) == 0 {
		return Transcript{}, ErrNoTranscript
	}
	return Transcript{}, fmt.Errorf("all transcribers failed: %w", errors.Join(errs...))
}
