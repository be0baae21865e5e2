// Package hmr implements the hot-update coordinator: subscriber
// fanout over long-lived sinks and the queue/apply handshake, per
// spec.md §4.10.
package hmr

import "time"

// Reason classifies why a module appears in a PendingUpdate.
type Reason string

const (
	ReasonChanged   Reason = "changed"
	ReasonDependent Reason = "dependent"
	ReasonDeleted   Reason = "deleted"
)

// ModuleUpdate is one module entry inside a PendingUpdate.
type ModuleUpdate struct {
	AbsPath     string `json:"abs_path"`
	URL         string `json:"url"`
	ContentHash string `json:"content_hash,omitempty"`
	Reason      Reason `json:"reason"`
}

// PendingUpdate is a queued HMR batch awaiting a client apply fetch.
type PendingUpdate struct {
	ID        string         `json:"id"`
	Modules   []ModuleUpdate `json:"modules"`
	CreatedAt time.Time      `json:"created_at"`
}

// ModuleSummary is the no-payload projection of a ModuleUpdate
// broadcast to subscribers ahead of the client's apply fetch.
type ModuleSummary struct {
	URL         string `json:"url"`
	ContentHash string `json:"hash,omitempty"`
	Reason      Reason `json:"reason"`
}

// WireEvent is a single event sent down a subscriber's Sink.
type WireEvent struct {
	Type    string          `json:"type"`
	Payload string          `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
	Modules []ModuleSummary `json:"modules,omitempty"`
	Message string          `json:"message,omitempty"`
}

func summarize(modules []ModuleUpdate) []ModuleSummary {
	out := make([]ModuleSummary, len(modules))
	for i, m := range modules {
		out[i] = ModuleSummary{URL: m.URL, ContentHash: m.ContentHash, Reason: m.Reason}
	}
	return out
}
