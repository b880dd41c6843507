package main

import (
	"log/slog"
	"sort"

	"packchain/core/events"
	"packchain/indexer"
	"packchain/observability/logging"
)

// eventLog writes every committed event to the node log at debug level.
type eventLog struct {
	logger *slog.Logger
}

func (l eventLog) Emit(evt events.Event) {
	attrs := []any{slog.String("type", evt.EventType())}
	if payload, ok := evt.(events.Payload); ok {
		if canonical := payload.Event(); canonical != nil {
			keys := make([]string, 0, len(canonical.Attributes))
			for k := range canonical.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				attrs = append(attrs, logging.MaskField(k, canonical.Attributes[k]))
			}
		}
	}
	l.logger.Debug("event committed", attrs...)
}

// committedEmitters fans committed events out to the log and, when enabled,
// the indexer.
func committedEmitters(logger *slog.Logger, index *indexer.Indexer) events.Multi {
	out := events.Multi{eventLog{logger: logger.With(slog.String("component", "events"))}}
	if index != nil {
		out = append(out, index)
	}
	return out
}
