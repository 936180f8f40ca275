// Package recovery contains the reactor's panic-containment policy:
// every background goroutine the reactor starts (dialing, accepting,
// authenticating, receiving, the tick loop itself) defers a recover
// call so a single bad peer or decode bug can't take the whole process
// down. The recovered log line always carries the goroutine's name
// plus whatever domain context the caller has on hand (a tick number,
// a remote address, a peer identity), since "panic recovered" with no
// further context is useless once a link has already been torn down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from a panic and logs it against goroutine,
// with extra appended as additional slog key/value pairs for
// whatever domain context the caller has available (tick number,
// remote address, peer identity). Use with defer at the start of a
// goroutine.
func RecoverWithLog(logger *slog.Logger, goroutine string, extra ...any) {
	r := recover()
	if r == nil {
		return
	}
	attrs := make([]any, 0, 6+len(extra))
	attrs = append(attrs, "goroutine", goroutine, "panic", fmt.Sprintf("%v", r), "stack", string(debug.Stack()))
	attrs = append(attrs, extra...)
	logger.Error("panic recovered", attrs...)
}
