package logstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"nuha.dev/formrelay/internal/record"
	"nuha.dev/formrelay/internal/store"
)

type line struct {
	Key    string        `json:"key"`
	Record record.Record `json:"record"`
}

// LogStore appends one JSON document per line instead of rewriting the
// whole file, so an Append never reads the existing data.
type LogStore struct {
	path string
}

func NewStore(path string) *LogStore {
	return &LogStore{path: path}
}

func (l *LogStore) Append(key string, rec record.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(line{Key: key, Record: rec}); err != nil {
		return errors.Wrapf(store.ErrWrite, "encode: %s", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(store.ErrWrite, "%s: %s", l.path, err)
	}
	if _, err = f.Write(buf.Bytes()); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(store.ErrWrite, "%s: %s", l.path, err)
	}
	return nil
}

// Load replays the log. A trailing line without a newline is a torn write
// and is skipped.
func (l *LogStore) Load() (store.Entries, error) {
	m := store.Entries{}
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Wrapf(err, "could not open %s", l.path)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for n := 1; ; n++ {
		b, err := r.ReadBytes('\n')
		if err == io.EOF {
			return m, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %s", l.path)
		}
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var ln line
		if err := json.Unmarshal(b, &ln); err != nil {
			return nil, errors.Wrapf(store.ErrDecode, "%s:%d: %s", l.path, n, err)
		}
		if ln.Record == nil {
			ln.Record = record.Record{}
		}
		m[ln.Key] = ln.Record
	}
}
