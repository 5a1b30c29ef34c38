package store

import (
	"github.com/pkg/errors"
	"nuha.dev/formrelay/internal/record"
)

var (
	ErrDecode = errors.New("store decode failed")
	ErrWrite  = errors.New("store write failed")
)

const (
	FormatJSON  string = "json"
	FormatJSONL string = "jsonl"
)

// Entries maps an ingestion timestamp key to the record stored under it.
type Entries map[string]record.Record

// Store is the durable record store. Implementations assume a single writer.
type Store interface {
	Load() (Entries, error)
	Append(key string, rec record.Record) error
}
