package dispatcher

import (
	"context"
	"time"
)

// submitGraceTimeout bounds how long dispatchChunk waits for in-flight
// submits to finish once the dispatch stage is cancelled (spec §4.6/§5:
// "awaits in-flight submits with a 5-second grace").
const submitGraceTimeout = 5 * time.Second

// flushGraceTimeout bounds how long the reconciliation stage is allowed to
// keep running once it is asked to halt, before the dump stage is itself
// escalated. Unlike the submit grace, the spec doesn't pin a literal
// duration for this transition, so this reuses the same 5-second figure.
const flushGraceTimeout = 5 * time.Second

// CancelStages models the three escalating cancellation points spec
// §4.6/§5 describes: a first signal stops pulling new triggers, a second
// halts reconciliation before FlushCache finishes, a third aborts
// DumpCache. Each stage's context is Done when either its own cancel fires
// or the previous stage's grace period elapses, so a caller that never
// sends a second or third signal still gets bounded forward progress
// instead of hanging forever on a stuck RPC.
type CancelStages struct {
	Dispatch context.Context // first cancel
	Flush    context.Context // second cancel
	Dump     context.Context // third cancel
}

// NewCancelStages derives a three-stage chain from ctx. Cancelling ctx is
// the first signal. The two returned CancelFuncs let a caller that
// observes a second or third external cancellation request (e.g. repeated
// SIGINT) escalate immediately rather than waiting out the grace periods;
// callers that only ever cancel ctx once still converge, since each stage
// auto-escalates to the next after its own grace period.
//
// Both CancelFuncs must be called once the caller is done with the stages
// (Run does this via defer), even on the ordinary, never-cancelled path:
// that unblocks the two escalation goroutines below immediately instead of
// leaving them parked on ctx.Done() until the process exits.
func NewCancelStages(ctx context.Context, submitGrace, flushGrace time.Duration) (stages CancelStages, flushCancel, dumpCancel context.CancelFunc) {
	flushCtx, flushCancelFn := context.WithCancel(context.Background())
	dumpCtx, dumpCancelFn := context.WithCancel(context.Background())

	go func() {
		select {
		case <-ctx.Done():
		case <-flushCtx.Done():
			return // already resolved, by escalation or by the caller finishing
		}
		timer := time.NewTimer(submitGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-flushCtx.Done():
		}
		flushCancelFn()
	}()
	go func() {
		select {
		case <-flushCtx.Done():
		case <-dumpCtx.Done():
			return
		}
		timer := time.NewTimer(flushGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-dumpCtx.Done():
		}
		dumpCancelFn()
	}()

	return CancelStages{Dispatch: ctx, Flush: flushCtx, Dump: dumpCtx}, flushCancelFn, dumpCancelFn
}
