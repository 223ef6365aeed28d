package wasmop

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// predictionState is one module's view of recent activity and its
// outstanding wakeup prediction.
type predictionState struct {
	lastEventTime           time.Time
	lastEvents              []time.Time
	predictedWakeup         time.Time
	firstEventAfterShutdown bool
}

// ModuleEventLoop drives one module's guest lifecycle and async operations:
// it alternates between delivering results through the guest's wakeup
// export and deciding, on a steady tick, whether to snapshot an idle guest
// or restore one ahead of a predicted event.
type ModuleEventLoop struct {
	name         string
	guest        *guestInstance
	ops          *opsRunner
	predictor    *predictorClient
	snapshotting bool
	log          *log.Logger

	mu   sync.Mutex
	pred predictionState
}

const reconcileInterval = 100 * time.Millisecond

// newPredictionState builds the prediction bookkeeping a module starts life
// with: one seeded history entry at now, and firstEventAfterShutdown set so
// the first idle-out of a module's life never issues a prediction off a
// history holding only that seeded entry.
func newPredictionState(now time.Time) predictionState {
	return predictionState{
		lastEventTime:           now,
		lastEvents:              []time.Time{now},
		predictedWakeup:         now.Add(999 * 24 * time.Hour),
		firstEventAfterShutdown: true,
	}
}

// Run starts the guest and then alternates between delivering results and
// reconciling idle/predicted state until the module becomes terminal (no
// operations pending at all) or a fatal error occurs.
func (e *ModuleEventLoop) Run(ctx context.Context) error {
	if err := e.guest.startController(ctx); err != nil {
		return fmt.Errorf("starting module %s: %w", e.name, err)
	}

	e.mu.Lock()
	e.pred = newPredictionState(time.Now())
	e.mu.Unlock()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case res, ok := <-e.ops.results:
			if !ok {
				return nil
			}
			if err := e.resolveResult(ctx, res); err != nil {
				return err
			}
			if !e.ops.hasPendingOps() {
				return nil
			}

		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				return err
			}
			if !e.ops.hasPendingOps() {
				return nil
			}
		}
	}
}

// resolveResult applies one drained async result: updates prediction
// bookkeeping, then delivers it to the guest through wakeup. An error on
// the result itself is fatal to the module and is returned wrapped in
// ErrModuleFatal so Run stops the module.
func (e *ModuleEventLoop) resolveResult(ctx context.Context, res asyncResult) error {
	if res.err != nil {
		return fmt.Errorf("%w: module %s: %v", ErrModuleFatal, e.name, res.err)
	}

	t := time.Now()

	e.mu.Lock()
	if e.pred.firstEventAfterShutdown {
		e.pred.firstEventAfterShutdown = false
		e.pred.lastEvents = append(e.pred.lastEvents, t)
		if len(e.pred.lastEvents) > eventHistoryLimit {
			e.pred.lastEvents = e.pred.lastEvents[len(e.pred.lastEvents)-eventHistoryLimit:]
		}
	}
	if e.guest.isUninstantiated() {
		// The prediction that led here was wrong if we're still
		// uninstantiated when a real result shows up; reset it so the next
		// shutdown starts from a clean slate.
		e.pred.predictedWakeup = t.Add(999 * 24 * time.Hour)
	}
	if res.finished {
		e.pred.lastEventTime = t
	}
	e.mu.Unlock()

	var payload []byte
	if res.hasPayload {
		payload = res.payload
	}
	if err := e.guest.wakeup(ctx, res.requestID, payload, res.finished); err != nil {
		return err
	}
	return nil
}

// tick runs one round of predictor reconciliation: detect a missed
// prediction, restore ahead of an upcoming one, or snapshot an idle guest
// and ask the predictor for the next wakeup.
func (e *ModuleEventLoop) tick(ctx context.Context) error {
	t := time.Now()

	e.mu.Lock()
	predicted := e.pred.predictedWakeup
	firstAfterShutdown := e.pred.firstEventAfterShutdown
	history := append([]time.Time(nil), e.pred.lastEvents...)
	lastEvent := e.pred.lastEventTime
	e.mu.Unlock()

	if t.After(predicted.Add(gracePeriod)) {
		e.mu.Lock()
		e.pred.predictedWakeup = t.Add(999 * 24 * time.Hour)
		e.mu.Unlock()
	}

	if e.guest.isUninstantiated() && inPrePredictionWindow(t, predicted) {
		if err := e.guest.loadToMem(ctx); err != nil {
			return err
		}
	}

	if e.ops.webCallCount() == 0 && e.guest.isLive() && e.snapshotting &&
		isInactivePeriod(t, lastEvent) &&
		!inPrePredictionWindow(t, predicted) && !inGracePeriod(t, predicted) {

		if err := e.guest.uninstantiate(); err != nil {
			return err
		}

		if !firstAfterShutdown {
			predictedAt, err := e.predictor.predict(ctx, history)
			if err != nil {
				e.log.Printf("module %s: predictor: %v", e.name, err)
			} else {
				e.mu.Lock()
				e.pred.predictedWakeup = predictedAt
				e.mu.Unlock()
			}
		}

		e.mu.Lock()
		e.pred.firstEventAfterShutdown = true
		e.mu.Unlock()
	}

	return nil
}

// inGracePeriod reports whether t falls within
// [predictedWakeup, predictedWakeup+gracePeriod], during which a late
// prediction is still considered valid.
func inGracePeriod(t, predictedWakeup time.Time) bool {
	return !t.Before(predictedWakeup) && !t.After(predictedWakeup.Add(gracePeriod))
}

// inPrePredictionWindow reports whether t falls within
// (predictedWakeup-timeBeforePredicted, predictedWakeup], during which a
// snapshotted guest should be restored ahead of the predicted event.
func inPrePredictionWindow(t, predictedWakeup time.Time) bool {
	windowStart := predictedWakeup.Add(-timeBeforePredicted)
	return t.After(windowStart) && !t.After(predictedWakeup)
}

// isInactivePeriod reports whether t is more than shutdownInactiveInterval
// past lastEventTime.
func isInactivePeriod(t, lastEventTime time.Time) bool {
	return t.Sub(lastEventTime) > shutdownInactiveInterval
}
