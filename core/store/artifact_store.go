// Package store implements the Artifact Store: idempotent, hash-verified file writes scoped to
// a single run's outputs/ subtree.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/common/logger"
)

// filetypeHeaderSize is the number of leading bytes filetype.Match needs to sniff a media type.
const filetypeHeaderSize = 261

// WriteReason explains why SafeWrite did or did not touch the file on disk.
type WriteReason string

const (
	ReasonCreated  WriteReason = "created"
	ReasonUpdated  WriteReason = "updated"
	ReasonNoChange WriteReason = "nochange"
)

// WriteResult is the outcome of a SafeWrite call.
type WriteResult struct {
	Wrote     bool
	Reason    WriteReason
	SHA256    string
	SizeBytes int64
	MediaType string
}

// ArtifactStore writes files into one run's outputs/ subtree. It never allows a write to escape
// that subtree, and it serializes concurrent writers to the same relative path while letting
// writes to distinct paths proceed in parallel.
type ArtifactStore struct {
	root string
	log  logger.Log

	mu        sync.Mutex // guards pathLocks
	pathLocks map[string]*sync.Mutex
}

// NewArtifactStore returns an ArtifactStore rooted at the given run's outputs/ directory. root
// must already exist.
func NewArtifactStore(root string, log logger.Log) *ArtifactStore {
	return &ArtifactStore{
		root:      root,
		log:       log,
		pathLocks: make(map[string]*sync.Mutex),
	}
}

func (s *ArtifactStore) lockFor(relativePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.pathLocks[relativePath]
	if !ok {
		l = &sync.Mutex{}
		s.pathLocks[relativePath] = l
	}
	return l
}

// ValidatePath rejects absolute paths and paths containing ".." segments, per the store's
// contract that it may never escape the run's outputs/ subtree.
func ValidatePath(relativePath string) error {
	if relativePath == "" {
		return gerror.NewErrValidationFailed("artifact path must not be empty")
	}
	if filepath.IsAbs(relativePath) {
		return gerror.NewErrValidationFailed(fmt.Sprintf("artifact path %q must be relative", relativePath))
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(relativePath)), "/") {
		if part == ".." {
			return gerror.NewErrValidationFailed(fmt.Sprintf("artifact path %q escapes the run root", relativePath))
		}
	}
	return nil
}

// SafeWrite atomically writes data to relativePath under the store's root. If a file already
// exists at that path with identical content, the write is a no-op (ReasonNoChange). Otherwise
// the write lands via write-temp-then-rename so concurrent readers never observe a partial file.
func (s *ArtifactStore) SafeWrite(relativePath string, data []byte) (WriteResult, error) {
	if err := ValidatePath(relativePath); err != nil {
		return WriteResult{}, err
	}

	lock := s.lockFor(relativePath)
	lock.Lock()
	defer lock.Unlock()

	sum := sha256.Sum256(data)
	newHash := hex.EncodeToString(sum[:])
	mediaType := detectMediaType(relativePath, data)

	absPath := filepath.Join(s.root, filepath.FromSlash(relativePath))

	existing, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		existingSum := sha256.Sum256(existing)
		if hex.EncodeToString(existingSum[:]) == newHash {
			return WriteResult{Wrote: false, Reason: ReasonNoChange, SHA256: newHash, SizeBytes: int64(len(data)), MediaType: mediaType}, nil
		}
		if err := s.atomicWrite(absPath, data); err != nil {
			return WriteResult{}, gerror.NewErrIO(fmt.Sprintf("error updating artifact %q", relativePath), err)
		}
		s.log.WithField("path", relativePath).Debug("Updated artifact")
		return WriteResult{Wrote: true, Reason: ReasonUpdated, SHA256: newHash, SizeBytes: int64(len(data)), MediaType: mediaType}, nil
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return WriteResult{}, gerror.NewErrIO(fmt.Sprintf("error creating directory for artifact %q", relativePath), err)
		}
		if err := s.atomicWrite(absPath, data); err != nil {
			return WriteResult{}, gerror.NewErrIO(fmt.Sprintf("error creating artifact %q", relativePath), err)
		}
		s.log.WithField("path", relativePath).Debug("Created artifact")
		return WriteResult{Wrote: true, Reason: ReasonCreated, SHA256: newHash, SizeBytes: int64(len(data)), MediaType: mediaType}, nil
	default:
		return WriteResult{}, gerror.NewErrIO(fmt.Sprintf("error reading existing artifact %q", relativePath), err)
	}
}

// atomicWrite writes data to a temp file alongside target, then renames it into place. Rename is
// atomic on the same filesystem, so a concurrent reader of target either sees the old complete
// file or the new complete file, never a torn write.
func (s *ArtifactStore) atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "error creating temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "error writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "error syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "error closing temp file")
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return errors.Wrap(err, "error renaming temp file into place")
	}
	return nil
}

// ReadAt returns the bytes currently stored at relativePath, for downstream steps or qa
// artifact checks that need to re-read what a prior step wrote.
func (s *ArtifactStore) ReadAt(relativePath string) ([]byte, error) {
	if err := ValidatePath(relativePath); err != nil {
		return nil, err
	}
	absPath := filepath.Join(s.root, filepath.FromSlash(relativePath))
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gerror.NewErrNotFound(fmt.Sprintf("artifact %q not found", relativePath))
		}
		return nil, gerror.NewErrIO(fmt.Sprintf("error reading artifact %q", relativePath), err)
	}
	return data, nil
}

// Root returns the store's outputs/ root directory, for components (qa's doublestar glob checks)
// that need to walk the filesystem directly.
func (s *ArtifactStore) Root() string {
	return s.root
}

// detectMediaType sniffs data's media type by magic number, falling back to an extension-based
// guess, and finally to a generic octet-stream type.
func detectMediaType(relativePath string, data []byte) string {
	headerLen := filetypeHeaderSize
	if len(data) < headerLen {
		headerLen = len(data)
	}
	kind, err := filetype.Match(data[:headerLen])
	if err == nil && kind != filetype.Unknown {
		return kind.MIME.Type
	}
	if ext := filepath.Ext(relativePath); ext != "" {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			return strings.Split(guessed, ";")[0]
		}
	}
	return "application/octet-stream"
}
