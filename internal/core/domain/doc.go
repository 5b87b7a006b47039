// Package domain holds the types every layer of mizan shares: documents and
// their chunks, sessions, the events streamed while a question is answered,
// and the final OrchestratorResult. It also carries the settings model and
// the sentinel errors adapters wrap.
//
// Only the standard library may be imported here.
package domain
