// Package driven lists what the core needs from the outside world.
//
// Ingestion uses Extractor, Chunker, EmbeddingService, VectorIndex and
// DocumentStore. Answering adds LLMService, PromptStore and SessionStore.
// ConfigStore is a flat key/value view of the settings file; typed access
// lives in the settings service.
//
// Adapters implement these interfaces; this package imports only domain.
package driven
