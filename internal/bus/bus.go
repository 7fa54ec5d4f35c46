package bus

import "context"

// Message announces that a create/update/delete happened somewhere, so
// other open admin clients can reload the affected view. It carries no
// entity payload; the cache reloads from the server.
type Message struct {
	Kind     string `json:"kind"`
	Op       string `json:"op"`
	EntityID string `json:"entityId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Bus fans mutation notifications out across clients.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(Message)) error
	Close() error
}
