// Package core defines the shared vocabulary of the orchestrator: the
// persisted conversation Entry and its Role, the in-memory Content/Part
// message representation handed to models, the discriminated wire Event
// streamed to callers, and the MemoryStore contract consumed by the
// streaming session and the orchestrator.
package core
