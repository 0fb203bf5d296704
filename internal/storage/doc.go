// Package storage persists small named JSON documents (feature toggles and
// schedule tables).
//
// Documents are always rewritten in full. Drivers:
//   - "file": one indented JSON file per document, replaced atomically
//   - "sqlite": a single docs table keyed by document name
//   - "memory": process-local, used by tests and dry runs
package storage
