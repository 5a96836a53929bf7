package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, env, release string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return func() {}, err
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("service", "aanmelden")
	})
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureRequestErr reports err tagged with the request it happened in.
func CaptureRequestErr(err error, requestID, route string) {
	capture(err, map[string]string{"request_id": requestID, "route": route})
}

// CaptureJobErr reports a failed queue message tagged with its type and id.
func CaptureJobErr(err error, msgType, msgID string) {
	capture(err, map[string]string{"message_type": msgType, "message_id": msgID})
}

func capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}
