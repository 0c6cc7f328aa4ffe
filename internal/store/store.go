// Package store owns the on-disk model artifacts: one directory per preset
// local name plus a manifest recording which downloads completed.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/ysm446/sd-to-wan-prompt/internal/common/fsutil"
	"github.com/ysm446/sd-to-wan-prompt/internal/errs"
	"github.com/ysm446/sd-to-wan-prompt/internal/modelfile"
	"github.com/ysm446/sd-to-wan-prompt/internal/registry"
)

const (
	manifestName = "manifest.json"
	stagingDir   = ".staging"
	// PartSuffix marks files still being written by a download.
	PartSuffix = ".part"
)

// FileEntry is one file of a stored artifact.
type FileEntry struct {
	Name   string        `json:"name"`
	Size   int64         `json:"size"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// ExpectedFile is what a download promised to deliver.
type ExpectedFile struct {
	Name   string
	Size   int64
	Digest digest.Digest
}

// Record is the manifest entry for one preset.
type Record struct {
	PresetID       string        `json:"preset_id"`
	LocalName      string        `json:"local_name"`
	Layout         registry.Kind `json:"layout"`
	RepoID         string        `json:"repo_id,omitempty"`
	Revision       string        `json:"revision,omitempty"`
	Path           string        `json:"path"`
	Complete       bool          `json:"complete"`
	SizeBytes      int64         `json:"size_bytes"`
	LastVerifiedAt time.Time     `json:"last_verified_at"`
	Files          []FileEntry   `json:"files,omitempty"`
	Invalidated    string        `json:"invalidated,omitempty"`
}

// HumanSize formats SizeBytes.
func (r Record) HumanSize() string { return units.HumanSize(float64(r.SizeBytes)) }

type manifest struct {
	Version int                `json:"version"`
	Records map[string]*Record `json:"records"`
}

// Staging is an in-progress download target.
type Staging struct {
	PresetID string
	Dir      string
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	root    string
	records map[string]*Record
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// Open loads the manifest under root, creating root if needed. A missing or
// unreadable manifest starts empty; Rescan rebuilds it from disk.
func Open(root string, opts ...Option) (*Store, error) {
	root, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &Store{root: root, records: map[string]*Record{}, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	b, err := os.ReadFile(filepath.Join(root, manifestName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	default:
		var m manifest
		if err := json.Unmarshal(b, &m); err != nil {
			s.log.Warn().Err(err).Str("event", "manifest_corrupt").Msg("starting with empty manifest")
		} else if m.Records != nil {
			s.records = m.Records
		}
	}
	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Has reports whether a complete, intact artifact exists for presetID. Each
// call re-checks the recorded files; a failed check invalidates the record.
func (s *Store) Has(presetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil || !r.Complete {
		return false
	}
	if err := verifyFiles(r); err != nil {
		s.log.Warn().Err(err).Str("event", "artifact_invalid").Str("preset", presetID).Msg("stored artifact failed verification")
		r.Complete = false
		r.Invalidated = err.Error()
		_ = s.persistLocked()
		return false
	}
	return true
}

// PathFor returns the directory of a usable artifact.
func (s *Store) PathFor(presetID string) (string, error) {
	if !s.Has(presetID) {
		return "", errs.NotFound("artifact", presetID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil || !r.Complete {
		return "", errs.NotFound("artifact", presetID)
	}
	return r.Path, nil
}

// Get returns a copy of the record for presetID.
func (s *Store) Get(presetID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil {
		return Record{}, false
	}
	return copyRecord(r), true
}

// List returns every record ordered by preset id.
func (s *Store) List() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, copyRecord(r))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PresetID < out[j].PresetID })
	return out
}

// Begin prepares the staging directory and records the download as
// incomplete. Bytes left in staging by an earlier attempt are kept.
func (s *Store) Begin(p registry.Preset) (*Staging, error) {
	if p.LocalName == "" || strings.ContainsAny(p.LocalName, `/\`) || p.LocalName == stagingDir {
		return nil, errs.Invalid("begin", p.ID, "bad local name")
	}
	dir := s.stagingPath(p.LocalName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if fsutil.IsNoSpace(err) {
			return nil, errs.Exhausted("begin", p.ID, "disk space at "+s.root, err)
		}
		return nil, fmt.Errorf("create staging: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.ID] = &Record{
		PresetID:  p.ID,
		LocalName: p.LocalName,
		Layout:    p.Kind,
		RepoID:    p.RepoID,
		Revision:  p.Revision,
		Path:      filepath.Join(s.root, p.LocalName),
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return &Staging{PresetID: p.ID, Dir: dir}, nil
}

// Finalize verifies the staged files and atomically publishes them. On
// failure the record stays incomplete and the error is an integrity failure.
func (s *Store) Finalize(presetID string, expected []ExpectedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil {
		return errs.Conflict("finalize", presetID, "no download in progress")
	}
	dir := s.stagingPath(r.LocalName)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return errs.Conflict("finalize", presetID, "nothing staged")
	}
	promised := make([]FileEntry, 0, len(expected))
	for _, ef := range expected {
		if !filepath.IsLocal(filepath.FromSlash(ef.Name)) {
			return errs.Integrity("finalize", presetID, fmt.Errorf("unsafe file name %q", ef.Name))
		}
		fi, err := os.Stat(filepath.Join(dir, ef.Name))
		if err != nil {
			return errs.Integrity("finalize", presetID, fmt.Errorf("missing %s", ef.Name))
		}
		if fi.Size() == 0 || (ef.Size > 0 && fi.Size() != ef.Size) {
			return errs.Integrity("finalize", presetID, fmt.Errorf("%s: size %d, expected %d", ef.Name, fi.Size(), ef.Size))
		}
		promised = append(promised, FileEntry{Name: ef.Name, Size: fi.Size(), Digest: ef.Digest})
	}
	if err := modelfile.CheckLayout(r.Layout, dir); err != nil {
		return errs.Integrity("finalize", presetID, err)
	}
	removeParts(dir)

	final := filepath.Join(s.root, r.LocalName)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("clear previous copy: %w", err)
	}
	if err := os.Rename(dir, final); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	files, size, err := listFiles(final)
	if err != nil {
		return fmt.Errorf("list artifact: %w", err)
	}
	mergeDigests(files, promised)
	r.Path = final
	r.Files = files
	r.SizeBytes = size
	r.Complete = true
	r.Invalidated = ""
	r.LastVerifiedAt = s.now()
	s.log.Info().Str("event", "artifact_finalized").Str("preset", presetID).Str("size", r.HumanSize()).Msg("artifact stored")
	return s.persistLocked()
}

// Abort discards staged bytes and the incomplete record.
func (s *Store) Abort(presetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil {
		return nil
	}
	_ = os.RemoveAll(s.stagingPath(r.LocalName))
	if !r.Complete {
		delete(s.records, presetID)
	}
	return s.persistLocked()
}

// Remove deletes the local copy and its record. Removing an absent artifact is a no-op.
func (s *Store) Remove(presetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(s.root, r.LocalName)); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	_ = os.RemoveAll(s.stagingPath(r.LocalName))
	delete(s.records, presetID)
	s.log.Info().Str("event", "artifact_removed").Str("preset", presetID).Msg("artifact removed")
	return s.persistLocked()
}

// Invalidate marks a record unusable after a loader found it corrupt.
func (s *Store) Invalidate(presetID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[presetID]
	if r == nil {
		return nil
	}
	r.Complete = false
	r.Invalidated = reason
	s.log.Warn().Str("event", "artifact_invalidated").Str("preset", presetID).Str("reason", reason).Msg("artifact invalidated")
	return s.persistLocked()
}

// Rescan rebuilds the manifest from the directory tree for the given presets.
// Records for presets not in the list are dropped.
func (s *Store) Rescan(presets []registry.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.records
	s.records = make(map[string]*Record, len(presets))
	for _, p := range presets {
		if p.LocalPath != "" || p.LocalName == "" {
			continue
		}
		dir := filepath.Join(s.root, p.LocalName)
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			continue
		}
		if err := modelfile.CheckLayout(p.Kind, dir); err != nil {
			s.log.Debug().Err(err).Str("preset", p.ID).Msg("rescan skipped directory")
			continue
		}
		files, size, err := listFiles(dir)
		if err != nil {
			continue
		}
		if old := prev[p.ID]; old != nil {
			mergeDigests(files, old.Files)
		}
		s.records[p.ID] = &Record{
			PresetID:       p.ID,
			LocalName:      p.LocalName,
			Layout:         p.Kind,
			RepoID:         p.RepoID,
			Revision:       p.Revision,
			Path:           dir,
			Complete:       true,
			SizeBytes:      size,
			Files:          files,
			LastVerifiedAt: s.now(),
		}
	}
	s.log.Info().Str("event", "rescan").Int("records", len(s.records)).Msg("manifest rebuilt")
	return s.persistLocked()
}

func (s *Store) stagingPath(localName string) string {
	return filepath.Join(s.root, stagingDir, localName)
}

func (s *Store) persistLocked() error {
	b, err := json.MarshalIndent(manifest{Version: 1, Records: s.records}, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(s.root, manifestName), b, 0o644); err != nil {
		if fsutil.IsNoSpace(err) {
			return errs.Exhausted("persist manifest", "", "disk space at "+s.root, err)
		}
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func verifyFiles(r *Record) error {
	fi, err := os.Stat(r.Path)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("directory %s missing", r.Path)
	}
	for _, f := range r.Files {
		st, err := os.Stat(filepath.Join(r.Path, f.Name))
		if err != nil {
			return fmt.Errorf("%s missing", f.Name)
		}
		if st.Size() == 0 || st.Size() != f.Size {
			return fmt.Errorf("%s: size %d, recorded %d", f.Name, st.Size(), f.Size)
		}
	}
	return nil
}

func listFiles(dir string) ([]FileEntry, int64, error) {
	var files []FileEntry
	var total int64
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(p, PartSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		files = append(files, FileEntry{Name: filepath.ToSlash(rel), Size: info.Size()})
		total += info.Size()
		return nil
	})
	return files, total, err
}

func mergeDigests(files, old []FileEntry) {
	byName := make(map[string]FileEntry, len(old))
	for _, f := range old {
		byName[f.Name] = f
	}
	for i := range files {
		if o, ok := byName[files[i].Name]; ok && o.Size == files[i].Size {
			files[i].Digest = o.Digest
		}
	}
}

func removeParts(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, PartSuffix) {
			_ = os.Remove(p)
		}
		return nil
	})
}

func copyRecord(r *Record) Record {
	c := *r
	c.Files = append([]FileEntry(nil), r.Files...)
	return c
}
