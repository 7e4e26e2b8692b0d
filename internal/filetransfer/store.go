// Package filetransfer implements the content-addressed local file store,
// the ack-gated wire protocol, and provider scoring.
package filetransfer

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	golog "github.com/ipfs/go-log/v2"

	"github.com/p2p-industries/hyveos/pkg/fcid"
)

var log = golog.Logger("filetransfer")

// LocalStore persists file contents on disk, named by their Cid, under a
// single root directory.
type LocalStore struct {
	root string
}

// NewLocalStore ensures root exists and returns a LocalStore rooted there.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("filetransfer: create store dir %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(c fcid.Cid) string {
	return filepath.Join(s.root, c.Filename())
}

// PathFor returns the on-disk path c would occupy in this store, whether or
// not it is currently present.
func (s *LocalStore) PathFor(c fcid.Cid) string {
	return s.path(c)
}

// Import copies the contents read from r into the store, computing its
// hash and minting a fresh Cid.
func (s *LocalStore) Import(r io.Reader) (fcid.Cid, error) {
	tmp, err := os.CreateTemp(s.root, "import-*")
	if err != nil {
		return fcid.Cid{}, fmt.Errorf("filetransfer: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return fcid.Cid{}, fmt.Errorf("filetransfer: copy contents: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fcid.Cid{}, fmt.Errorf("filetransfer: close temp file: %w", err)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	c := fcid.New(sum, nil)
	if err := os.Rename(tmpPath, s.path(c)); err != nil {
		return fcid.Cid{}, fmt.Errorf("filetransfer: finalize import: %w", err)
	}
	return c, nil
}

// Open returns a reader over the stored file's contents.
func (s *LocalStore) Open(c fcid.Cid) (io.ReadCloser, error) {
	f, err := os.Open(s.path(c))
	if err != nil {
		return nil, fmt.Errorf("filetransfer: open %s: %w", c.Filename(), err)
	}
	return f, nil
}

// Has reports whether c is stored locally.
func (s *LocalStore) Has(c fcid.Cid) bool {
	_, err := os.Stat(s.path(c))
	return err == nil
}

// Size returns the stored file's size in bytes.
func (s *LocalStore) Size(c fcid.Cid) (int64, error) {
	info, err := os.Stat(s.path(c))
	if err != nil {
		return 0, fmt.Errorf("filetransfer: stat %s: %w", c.Filename(), err)
	}
	return info.Size(), nil
}

// List returns every Cid currently stored.
func (s *LocalStore) List() ([]fcid.Cid, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: list %s: %w", s.root, err)
	}
	out := make([]fcid.Cid, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c, err := fcid.ParseFilename(e.Name())
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove deletes the stored file for c, if present.
func (s *LocalStore) Remove(c fcid.Cid) error {
	if err := os.Remove(s.path(c)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filetransfer: remove %s: %w", c.Filename(), err)
	}
	return nil
}
