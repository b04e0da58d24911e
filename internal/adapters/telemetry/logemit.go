package telemetry

import (
	"sprayer/internal/core/events"
	"sprayer/internal/platform/logger"
)

// Log mirrors every event into the structured log, for runs without a
// broker
type Log struct {
	log logger.Logger
}

// NewLog builds the log emitter
func NewLog() *Log {
	return &Log{log: *logger.Named("telemetry")}
}

// Emit implements events.Emitter
func (l *Log) Emit(ev events.Event) {
	data, err := ev.ToJSON()
	if err != nil {
		l.log.Warn().Err(err).Str("event", ev.Type()).Msg("event marshal failed")
		return
	}
	l.log.Info().Str("event", ev.Type()).RawJSON("data", data).Msg("event")
}
