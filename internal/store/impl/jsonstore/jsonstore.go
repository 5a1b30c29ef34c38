package jsonstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"nuha.dev/formrelay/internal/record"
	"nuha.dev/formrelay/internal/store"
)

const (
	CorruptFail  string = "fail"
	CorruptReset string = "reset"
)

type StoreConfig struct {
	Path string
	// OnCorrupt is CorruptFail or CorruptReset.
	OnCorrupt string
}

// Store keeps every entry in one pretty-printed JSON object. Each Append
// reads the whole file, merges, and atomically replaces it.
type Store struct {
	config *StoreConfig
	now    func() time.Time
}

func NewStore(config *StoreConfig) *Store {
	return &Store{config: config, now: time.Now}
}

func (s *Store) Load() (store.Entries, error) {
	data, err := os.ReadFile(s.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.Entries{}, nil
		}
		return nil, errors.Wrapf(err, "could not read %s", s.config.Path)
	}
	var m store.Entries
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(store.ErrDecode, "%s: %s", s.config.Path, err)
	}
	if m == nil {
		return nil, errors.Wrapf(store.ErrDecode, "%s: not a json object", s.config.Path)
	}
	return m, nil
}

func (s *Store) Append(key string, rec record.Record) error {
	m, err := s.Load()
	if err != nil {
		if !errors.Is(err, store.ErrDecode) || s.config.OnCorrupt != CorruptReset {
			return err
		}
		if err := s.quarantine(); err != nil {
			return err
		}
		m = store.Entries{}
	}
	m[key] = rec
	return s.write(m)
}

func (s *Store) write(m store.Entries) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return errors.Wrapf(store.ErrWrite, "encode: %s", err)
	}
	if err := renameio.WriteFile(s.config.Path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(store.ErrWrite, "%s: %s", s.config.Path, err)
	}
	return nil
}

// quarantine moves a corrupt store file aside so a fresh one can be started
// without destroying what was there.
func (s *Store) quarantine() error {
	dst := fmt.Sprintf("%s.corrupt-%d", s.config.Path, s.now().UnixNano())
	if err := os.Rename(s.config.Path, dst); err != nil {
		return errors.Wrapf(store.ErrWrite, "quarantine %s: %s", s.config.Path, err)
	}
	return nil
}
