package types

// Event is the canonical structured payload emitted by the native modules
// whenever ledger state changes. Attributes are flat string pairs so that the
// RPC layer and indexers can forward them without knowing module internals.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
