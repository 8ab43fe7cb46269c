package api

import (
	"go.uber.org/zap"

	"flowctl/internal/pipeline"
)

// LogNotifier is a notification sink that writes toasts to a zap logger,
// used by the CLI where there is no UI surface to render them.
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier wraps a zap logger as a pipeline.Notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Sugar()}
}

// Notify implements pipeline.Notifier. Fire-and-forget.
func (n *LogNotifier) Notify(title, message, severity string) {
	switch severity {
	case pipeline.SeverityError:
		n.log.Errorw(title, "detail", message)
	case pipeline.SeverityWarning:
		n.log.Warnw(title, "detail", message)
	default:
		n.log.Infow(title, "detail", message)
	}
}
