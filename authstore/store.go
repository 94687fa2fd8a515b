package authstore

import (
	"os"

	"github.com/tomasmach/personabridge/persist"
)

// JSONFileStore persists the user→Record map as a single atomically
// written JSON file (spec §6 `auth.json`), grounded on the same
// write-tmp-then-rename idiom as registry.FileStore.
type JSONFileStore struct {
	path string
}

// NewJSONFileStore builds a JSONFileStore rooted at path.
func NewJSONFileStore(path string) *JSONFileStore { return &JSONFileStore{path: path} }

// Save atomically overwrites the credential file.
func (f *JSONFileStore) Save(records map[string]Record) error {
	return persist.WriteJSONAtomic(f.path, records)
}

// Load reads the credential file, returning an empty map if it doesn't
// exist yet (first run).
func (f *JSONFileStore) Load() (map[string]Record, error) {
	records := make(map[string]Record)
	err := persist.ReadJSON(f.path, &records)
	if os.IsNotExist(err) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
