package middleware

import "context"

// callerRecorder lets CallerAuth, which runs inside Logging, report the
// resolved caller back to the log line.
type callerRecorder struct {
	caller string
}

type recorderKey struct{}

func withRecorder(ctx context.Context, rec *callerRecorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recordCaller(ctx context.Context, caller string) {
	if rec, ok := ctx.Value(recorderKey{}).(*callerRecorder); ok {
		rec.caller = caller
	}
}
