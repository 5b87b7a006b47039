// Package extractors turns uploaded files into plain text.
//
// Each subpackage handles one file type and implements driven.Extractor.
// Extractors are registered with the Registry at startup and never touch
// storage.
package extractors
