// Package worker holds the per-event-type handlers invoked by the queue.
// Each handler decodes the typed job data its router produced, performs the
// side effect, and writes a terminal audit entry. Errors are always returned
// so the retry wrapper and the queue's failure bookkeeping can react.
package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/webhook-ingest/internal/audit"
)

// Workers bundles the dependencies shared by all event handlers.
type Workers struct {
	audit  audit.Recorder
	logger *slog.Logger
}

// New creates the worker set.
func New(recorder audit.Recorder, logger *slog.Logger) *Workers {
	return &Workers{
		audit:  recorder,
		logger: logger,
	}
}

// decodeData maps a job's data onto a typed struct via a JSON round trip.
// Durable backings deliver data that already passed through JSON, so this
// normalizes both paths to the same decoding rules.
func decodeData(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode job data: %w", err)
	}
	return nil
}
