package registry

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tomasmach/personabridge/persist"
)

// Document is the on-disk shape of the registry (spec §6):
//
//	{"personalities": [...], "aliases": {"global": {...}, "user": {"<userID>": {...}}}}
type Document struct {
	Personalities []Personality   `json:"personalities"`
	Aliases       DocumentAliases `json:"aliases"`
}

// DocumentAliases separates global aliases from per-user aliases so the
// file format mirrors the in-memory precedence rules directly.
type DocumentAliases struct {
	Global map[string]string            `json:"global"`
	User   map[string]map[string]string `json:"user"`
}

func documentToSnapshot(doc Document) *snapshot {
	s := emptySnapshot()
	for i := range doc.Personalities {
		p := doc.Personalities[i]
		s.personalities = append(s.personalities, &p)
	}
	if doc.Aliases.Global != nil {
		s.globalAliases = copyStringMap(doc.Aliases.Global)
	}
	if doc.Aliases.User != nil {
		s.userAliases = copyUserAliases(doc.Aliases.User)
	}
	return s
}

func snapshotToDocument(s *snapshot) Document {
	doc := Document{
		Aliases: DocumentAliases{
			Global: copyStringMap(s.globalAliases),
			User:   copyUserAliases(s.userAliases),
		},
	}
	for _, p := range s.personalities {
		doc.Personalities = append(doc.Personalities, *p)
	}
	return doc
}

// FileStore persists the Document as an atomically-written JSON file
// (persist.WriteJSONAtomic), grounded on Qefaraki-picoclaw's
// state.TopicMappingStore.saveAtomic idiom.
type FileStore struct {
	path string
}

// NewFileStore builds a FileStore rooted at path.
func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

// Save atomically overwrites the document file.
func (f *FileStore) Save(doc Document) error {
	return persist.WriteJSONAtomic(f.path, doc)
}

// legacyRecord is one entry of the flat legacy shape predating the
// personalities/aliases document (spec §6): `{ <name>: personalityRecord }`.
type legacyRecord struct {
	FullName     string `json:"fullName"`
	AddedBy      string `json:"addedBy"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Load reads the document file, auto-migrating the legacy flat-map shape
// (spec §6: no `personalities` key, values carrying `fullName`/`addedBy`)
// into the current shape and backing up the original file alongside it.
func (f *FileStore) Load() (Document, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, errors.Wrap(err, "read registry document")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Document{}, errors.Wrap(err, "decode registry document")
	}
	if _, hasPersonalities := probe["personalities"]; hasPersonalities {
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, errors.Wrap(err, "decode registry document")
		}
		return doc, nil
	}

	legacy := make(map[string]legacyRecord, len(probe))
	isLegacy := false
	for name, rawRecord := range probe {
		var rec legacyRecord
		if err := json.Unmarshal(rawRecord, &rec); err != nil {
			return Document{}, errors.Wrap(err, "decode registry document")
		}
		if rec.FullName != "" || rec.AddedBy != "" {
			isLegacy = true
		}
		legacy[name] = rec
	}
	if !isLegacy {
		return Document{}, errors.New("decode registry document: missing personalities key and no legacy records found")
	}

	if backupErr := persist.BackupBeforeOverwrite(f.path, ".legacy.json"); backupErr != nil {
		return Document{}, errors.Wrap(backupErr, "backup legacy registry file")
	}
	migrated := migrateLegacyDocument(legacy)
	if saveErr := f.Save(migrated); saveErr != nil {
		return Document{}, errors.Wrap(saveErr, "persist migrated registry document")
	}
	return migrated, nil
}

// migrateLegacyDocument converts the flat legacy map into the current
// Document shape, using the map key as the display name when fullName is
// absent and assigning each migrated record a fresh id.
func migrateLegacyDocument(legacy map[string]legacyRecord) Document {
	doc := Document{Personalities: make([]Personality, 0, len(legacy))}
	for name, rec := range legacy {
		displayName := rec.FullName
		if displayName == "" {
			displayName = name
		}
		doc.Personalities = append(doc.Personalities, Personality{
			ID:           uuid.NewString(),
			DisplayName:  displayName,
			AvatarURL:    rec.AvatarURL,
			ErrorMessage: rec.ErrorMessage,
			OwnerUserID:  rec.AddedBy,
		})
	}
	return doc
}
