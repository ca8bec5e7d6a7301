package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/twin/internal/metrics"
)

// FailureKind classifies a stage failure. Every kind is recovered inside the
// turn; none reaches the caller as an error.
type FailureKind string

const (
	KindInput          FailureKind = "input_error"
	KindTranscription  FailureKind = "transcription_failure"
	KindLowConfidence  FailureKind = "low_confidence_decision"
	KindRetrievalEmpty FailureKind = "retrieval_empty"
	KindGeneration     FailureKind = "generation_failure"
	KindSynthesis      FailureKind = "synthesis_failure"
	KindCache          FailureKind = "cache_failure"
)

// Stage names, also used as metric labels.
const (
	stageTranscribe = "transcribe"
	stageDecide     = "decide"
	stageRetrieve   = "retrieve"
	stageGenerate   = "generate"
	stageSynthesize = "synthesize"
)

// stageKinds is the kind reported when a stage times out or fails without
// classifying its error.
var stageKinds = map[string]FailureKind{
	stageTranscribe: KindTranscription,
	stageDecide:     KindLowConfidence,
	stageRetrieve:   KindRetrievalEmpty,
	stageGenerate:   KindGeneration,
	stageSynthesize: KindSynthesis,
}

// Failure is an error carrying its FailureKind.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

func fail(kind FailureKind, err error) error {
	return &Failure{Kind: kind, Err: err}
}

// Stage is the outcome of one bounded pipeline step. Value may be set even
// when Kind is, for stages that degrade rather than fail outright.
type Stage[T any] struct {
	Value    T
	Kind     FailureKind
	Err      error
	Duration time.Duration
}

// runStage runs fn with its own timeout and returns when fn does or the
// timeout fires, whichever is first. A late fn result is discarded.
func runStage[T any](ctx context.Context, name string, timeout time.Duration, m *metrics.Metrics, fn func(context.Context) (T, error)) Stage[T] {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(sctx)
		done <- outcome{v, err}
	}()

	var st Stage[T]
	select {
	case o := <-done:
		st.Value, st.Err = o.v, o.err
	case <-sctx.Done():
		st.Err = fmt.Errorf("%s stage: %w", name, sctx.Err())
	}
	st.Duration = time.Since(start)
	m.RecordStage(name, st.Duration)

	if st.Err != nil {
		var f *Failure
		if errors.As(st.Err, &f) {
			st.Kind = f.Kind
		} else {
			st.Kind = stageKinds[name]
		}
	}
	return st
}
