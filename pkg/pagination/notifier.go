package pagination

import (
	"github.com/rs/zerolog"
)

// Notifier presents fetch failures to the user. It is fire-and-forget:
// implementations must not block.
type Notifier interface {
	NotifyError(collection string, err error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(collection string, err error)

// NotifyError calls f.
func (f NotifierFunc) NotifyError(collection string, err error) {
	f(collection, err)
}

// NopNotifier returns a Notifier that drops every notification.
func NopNotifier() Notifier {
	return NotifierFunc(func(string, error) {})
}

// LogNotifier reports failures as warnings on a zerolog logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// NotifyError logs err.
func (n LogNotifier) NotifyError(collection string, err error) {
	n.Logger.Warn().
		Err(err).
		Str("collection", collection).
		Msg("Failed to load items")
}
