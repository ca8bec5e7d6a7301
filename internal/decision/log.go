package decision

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/twin/internal/storage"
)

// DecisionSaver persists decision records.
// Implemented by storage.Store.
type DecisionSaver interface {
	SaveDecision(ctx context.Context, d storage.DecisionRecord) error
}

const saveTimeout = 2 * time.Second

// AsyncLog writes decisions on short-lived goroutines. At most maxInFlight
// writes run at once; records arriving while saturated are dropped.
type AsyncLog struct {
	store DecisionSaver
	sem   chan struct{}
	wg    sync.WaitGroup
}

func NewAsyncLog(store DecisionSaver, maxInFlight int) *AsyncLog {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &AsyncLog{store: store, sem: make(chan struct{}, maxInFlight)}
}

func (l *AsyncLog) LogDecision(_ context.Context, rec storage.DecisionRecord) {
	select {
	case l.sem <- struct{}{}:
	default:
		slog.Warn("decision log saturated, dropping record", "session", rec.SessionID)
		return
	}

	l.wg.Add(1)
	go func() {
		defer func() {
			<-l.sem
			l.wg.Done()
		}()
		// Detached from the turn context: the turn may finish first.
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := l.store.SaveDecision(ctx, rec); err != nil {
			slog.Warn("saving decision failed", "session", rec.SessionID, "error", err)
		}
	}()
}

// Wait blocks until in-flight writes finish.
func (l *AsyncLog) Wait() {
	l.wg.Wait()
}
