package tui

import (
	"context"
	"sync/atomic"
)

type abortHolder struct{ ctx context.Context }

var abort atomic.Pointer[abortHolder]

// SetAbortContext registers the process context. A running App stops when
// it is cancelled; nil clears the registration.
func SetAbortContext(ctx context.Context) {
	if ctx == nil {
		abort.Store(nil)
		return
	}
	abort.Store(&abortHolder{ctx: ctx})
}

func getAbortContext() context.Context {
	if h := abort.Load(); h != nil {
		return h.ctx
	}
	return nil
}

// watchAbort arranges for app to stop when the abort context is done. The
// returned func cancels the arrangement.
func watchAbort(app *App) func() bool {
	ctx := getAbortContext()
	if ctx == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, app.Stop)
}
