package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/noctua-health/somnia/models"
)

const metadataFileName = "backups.json"

// MetadataStore is the JSON list of snapshot records kept alongside the
// snapshot files. All mutations rewrite the whole file; the list is small
// (bounded by the retention cap) so this stays cheap.
type MetadataStore struct {
	path string

	mu      sync.Mutex
	records []models.BackupMetadata
	loaded  bool
}

// NewMetadataStore creates the store for the given backup directory.
func NewMetadataStore(dir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(dir, metadataFileName)}
}

func (m *MetadataStore) load() error {
	if m.loaded {
		return nil
	}

	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.records = nil
		m.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading backup metadata: %w", err)
	}

	if err := json.Unmarshal(raw, &m.records); err != nil {
		return fmt.Errorf("parsing backup metadata: %w", err)
	}
	m.loaded = true
	return nil
}

func (m *MetadataStore) save() error {
	raw, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing backup metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never truncates the list.
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return fmt.Errorf("writing backup metadata: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// List returns all records, newest first.
func (m *MetadataStore) List() ([]models.BackupMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}

	out := make([]models.BackupMetadata, len(m.records))
	copy(out, m.records)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Get returns the record with the given id.
func (m *MetadataStore) Get(id string) (*models.BackupMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return nil, err
	}

	for i := range m.records {
		if m.records[i].ID == id {
			record := m.records[i]
			return &record, nil
		}
	}
	return nil, os.ErrNotExist
}

// Add appends a record and rewrites the list.
func (m *MetadataStore) Add(record models.BackupMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return err
	}

	m.records = append(m.records, record)
	return m.save()
}

// Remove deletes the records with the given ids and rewrites the list.
func (m *MetadataStore) Remove(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.load(); err != nil {
		return err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := m.records[:0]
	for _, record := range m.records {
		if !drop[record.ID] {
			kept = append(kept, record)
		}
	}
	m.records = kept
	return m.save()
}

// LastSuccessAt returns the creation time of the newest record, or the zero
// time when no snapshot exists yet.
func (m *MetadataStore) LastSuccessAt() (time.Time, error) {
	records, err := m.List()
	if err != nil {
		return time.Time{}, err
	}
	if len(records) == 0 {
		return time.Time{}, nil
	}
	return records[0].CreatedAt, nil
}
