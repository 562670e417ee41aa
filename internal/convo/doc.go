// Package convo implements the conversation collaborator: the contract for
// producing the next assistant reply with a structured action summary, a
// local keyword-heuristic engine, and an HTTP client for the remote
// conversation backend. Upstream enum values are always normalized to the
// known intent/urgency/action sets.
package convo
