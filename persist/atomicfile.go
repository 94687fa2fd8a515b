// Package persist provides the atomic write-then-rename file persistence
// idiom used by PersonalityRegistry and TokenStore: write to a sibling
// tmp file, fsync is not required for our durability bar, then rename over
// the target so a reader never observes a half-written document.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteJSONAtomic marshals v as indented JSON and atomically replaces path.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create parent dir")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// BackupBeforeOverwrite copies the file at path to path + suffix if path
// exists, used to snapshot a legacy-shape document before migrating it.
func BackupBeforeOverwrite(path, suffix string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read for backup")
	}
	return os.WriteFile(path+suffix, data, 0o600)
}

// ReadJSON unmarshals the file at path into v. Returns os.IsNotExist errors
// unwrapped so callers can distinguish "no file yet" from real failures.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
