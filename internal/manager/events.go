package manager

// Event represents a manager lifecycle event: a name, the runner and model
// it concerns and optional fields.
type Event struct {
	Name    string
	Runner  string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name string, inst *instance, modelID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, Runner: inst.name, ModelID: modelID, Fields: fields})
}
