package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/kvingest/blobstore"
	"github.com/hupe1980/kvingest/internal/compress"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = binaryVersion
)

// Manifest is the set of published files at one point in time.
type Manifest struct {
	Version   int        `json:"version"`
	ID        uint64     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Operator  string     `json:"operator,omitempty"`
	Files     []FileInfo `json:"files"`
}

// New creates an empty manifest for files built for operator.
func New(operator string) *Manifest {
	return &Manifest{
		Version:   CurrentVersion,
		CreatedAt: time.Now(),
		Operator:  operator,
	}
}

// FileInfo describes one published bulk-load file.
type FileInfo struct {
	// Name is the blob name relative to the store root.
	Name string `json:"name"`
	// Size is the size of the bulk-load file.
	Size int64 `json:"size"`
	// StoredSize is the size of the blob after compression.
	StoredSize  int64         `json:"stored_size"`
	Compression compress.Type `json:"compression"`
	// CRC32C is the checksum of the stored blob.
	CRC32C   uint32 `json:"crc32c"`
	Smallest []byte `json:"smallest,omitempty"`
	Largest  []byte `json:"largest,omitempty"`
	Puts     uint64 `json:"puts"`
	Merges   uint64 `json:"merges"`
	Deletes  uint64 `json:"deletes"`
}

// Entries returns the number of records in the file.
func (f FileInfo) Entries() uint64 { return f.Puts + f.Merges + f.Deletes }

// Entries returns the number of records in all files.
func (m *Manifest) Entries() uint64 {
	var n uint64
	for _, f := range m.Files {
		n += f.Entries()
	}
	return n
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.Files = make([]FileInfo, len(m.Files))
	for i, f := range m.Files {
		f.Smallest = bytes.Clone(f.Smallest)
		f.Largest = bytes.Clone(f.Largest)
		c.Files[i] = f
	}
	return &c
}

// FileName returns the blob name of manifest version id written at
// created. The timestamp keeps blobs of racing publishers apart.
func FileName(id uint64, created time.Time) string {
	return fmt.Sprintf("%s-%06d-%016x.bin", ManifestFileName, id, uint64(created.UnixNano()))
}

func versionPrefix(id uint64) string {
	return fmt.Sprintf("%s-%06d-", ManifestFileName, id)
}

// ParseFileName extracts the version from a name returned by FileName.
func ParseFileName(name string) (uint64, bool) {
	var (
		id    uint64
		nanos uint64
	)
	base := path.Base(name)
	if _, err := fmt.Sscanf(base, ManifestFileName+"-%d-%x.bin", &id, &nanos); err != nil {
		return 0, false
	}
	return id, FileName(id, time.Unix(0, int64(nanos))) == base
}

// Committer makes a manifest version current.
type Committer interface {
	// Current returns the current version and its manifest name. Version 0
	// means nothing was committed.
	Current(ctx context.Context) (uint64, string, error)
	// Commit makes name the manifest of version. It returns
	// blobstore.ErrConcurrentModification if version was already committed.
	Commit(ctx context.Context, version uint64, name string) error
}

// BlobCommitter commits by overwriting the CURRENT blob.
type BlobCommitter struct {
	store blobstore.Store
}

// NewBlobCommitter creates a committer keeping CURRENT in store.
func NewBlobCommitter(store blobstore.Store) *BlobCommitter {
	return &BlobCommitter{store: store}
}

// Current implements Committer.
func (c *BlobCommitter) Current(ctx context.Context) (uint64, string, error) {
	content, err := blobstore.ReadAll(ctx, c.store, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, "", nil
		}
		return 0, "", err
	}
	name := strings.TrimSpace(string(content))
	id, ok := ParseFileName(name)
	if !ok {
		return 0, "", fmt.Errorf("%w: CURRENT names %q", ErrCorrupt, name)
	}
	return id, name, nil
}

// Commit implements Committer. It rejects versions that are not newer
// than the current one.
func (c *BlobCommitter) Commit(ctx context.Context, version uint64, name string) error {
	current, _, err := c.Current(ctx)
	if err != nil {
		return err
	}
	if version <= current {
		return blobstore.ErrConcurrentModification
	}
	return c.store.Put(ctx, CurrentFileName, []byte(name))
}

// Store manages manifest versions in a blob store.
type Store struct {
	store     blobstore.Store
	committer Committer
	mu        sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCommitter replaces the default BlobCommitter.
func WithCommitter(c Committer) Option {
	return func(s *Store) {
		s.committer = c
	}
}

// NewStore creates a manifest store.
func NewStore(store blobstore.Store, opts ...Option) *Store {
	s := &Store{store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.committer == nil {
		s.committer = NewBlobCommitter(store)
	}
	return s
}

// Load loads the current manifest. It returns ErrNotFound before the
// first Save.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, name, err := s.committer.Current(ctx)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrNotFound
	}
	return s.read(ctx, name)
}

// LoadVersion loads a specific version. If several blobs exist for id,
// which only happens when a publisher crashed after losing a commit race,
// the newest readable one is returned.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, versionPrefix(id))
	if err != nil {
		return nil, err
	}
	var lastErr error = ErrNotFound
	for i := len(names) - 1; i >= 0; i-- {
		m, err := s.read(ctx, names[i])
		if err == nil {
			return m, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) read(ctx context.Context, name string) (*Manifest, error) {
	b, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	defer b.Close()
	return ReadBinary(io.NewSectionReader(b, 0, b.Size()))
}

// ListVersions returns the readable manifest versions in ascending order.
// Corrupt or unreadable manifests are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, ManifestFileName+"-")
	if err != nil {
		return nil, err
	}
	var manifests []*Manifest
	for _, name := range names {
		if _, ok := ParseFileName(name); !ok {
			continue
		}
		m, err := s.read(ctx, name)
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Save writes m as the version after the current one and commits it. On
// success m.ID and m.CreatedAt reflect the saved version. A lost commit
// race returns blobstore.ErrConcurrentModification and leaves m unchanged.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.committer.Current(ctx)
	if err != nil {
		return err
	}

	next := m.Clone()
	next.Version = CurrentVersion
	next.ID = current + 1
	next.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := next.WriteBinary(&buf); err != nil {
		return err
	}

	name := FileName(next.ID, next.CreatedAt)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return err
	}
	if err := s.committer.Commit(ctx, next.ID, name); err != nil {
		_ = s.store.Delete(ctx, name)
		return err
	}

	m.Version, m.ID, m.CreatedAt = next.Version, next.ID, next.CreatedAt
	return nil
}

// DeleteVersion deletes the manifest blobs of version id.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, versionPrefix(id))
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
