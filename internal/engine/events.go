package engine

import (
	"github.com/rs/zerolog"

	"orchestd/internal/manager"
)

// logPublisher writes manager lifecycle events to the log.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Publish(e manager.Event) {
	ev := p.log.Debug()
	switch e.Name {
	case "ensure_failed", "unload_timeout", "load_done", "download_start":
		ev = p.log.Info()
	}
	ev.Str("event", e.Name).Str("runner", e.Runner).Str("model", e.ModelID).Fields(e.Fields).Msg("manager_event")
}

type multiPublisher []manager.EventPublisher

func (m multiPublisher) Publish(e manager.Event) {
	for _, p := range m {
		p.Publish(e)
	}
}
