// Package services implements the driving ports on top of the driven ones.
//
// QueryService runs the streaming answer pipeline, IngestionService the
// extract-chunk-embed-index pipeline and SessionManager the conversation
// state both of them share. Nothing here knows about HTTP, terminals or
// storage engines.
package services
