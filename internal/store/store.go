// Package store provides crash-safe instrument descriptor persistence using
// JSON files.
//
// Each symbol's descriptor is stored as a separate file: inst_<symbol>.json.
// Writes use atomic file replacement (write to .tmp, then rename) to prevent
// corruption from partial writes or crashes mid-save. The engine calls
// SaveInstrument whenever an instrument frame arrives, and LoadAll on
// startup so checksum verification can begin before the vendor re-sends the
// descriptors over a fresh connection.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bookguard/pkg/wire"
)

// Store persists instrument descriptors to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	dir string     // directory containing inst_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SaveInstrument atomically persists the descriptor for one symbol.
// It writes to a .tmp file first, then renames over the target to ensure
// the file is never left in a partial state.
func (s *Store) SaveInstrument(pair wire.InstrumentPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("marshal instrument: %w", err)
	}

	path := filepath.Join(s.dir, "inst_"+sanitize(pair.Symbol)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write instrument: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadInstrument restores one symbol's descriptor from disk.
// Returns nil, nil if no saved descriptor exists.
func (s *Store) LoadInstrument(symbol string) (*wire.InstrumentPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "inst_"+sanitize(symbol)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read instrument: %w", err)
	}

	var pair wire.InstrumentPair
	if err := json.Unmarshal(data, &pair); err != nil {
		return nil, fmt.Errorf("unmarshal instrument: %w", err)
	}
	return &pair, nil
}

// LoadAll restores every saved descriptor in the directory, skipping files
// that fail to decode rather than aborting the whole load.
func (s *Store) LoadAll() ([]wire.InstrumentPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var out []wire.InstrumentPair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "inst_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var pair wire.InstrumentPair
		if err := json.Unmarshal(data, &pair); err != nil {
			continue
		}
		out = append(out, pair)
	}
	return out, nil
}

// sanitize makes a symbol safe to embed in a file name. Vendor symbols like
// "BTC/USD" carry path separators.
func sanitize(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, symbol)
}
