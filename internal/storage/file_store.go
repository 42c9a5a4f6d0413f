package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const blobExt = ".blob"

// FileBlobStore keeps blobs as files in a scratch directory. Writes go to a
// temp file that is linked into place, so readers never see a partial blob
// and an existing blob is never overwritten.
type FileBlobStore struct{ dir string }

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if dir == "" {
		return nil, errors.New("storage: scratch dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create scratch dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (f *FileBlobStore) Dir() string { return f.dir }

func (f *FileBlobStore) Location() Location { return Ephemeral }

func (f *FileBlobStore) Put(ctx context.Context, hint string, data []byte) (string, error) {
	if !validName(hint) {
		return "", ErrInvalidRef
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := hint + blobExt

	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeAndSync(tmp, data); err != nil {
		return "", fmt.Errorf("storage: write temp: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Link(tmpName, filepath.Join(f.dir, ref)); err != nil {
		return "", fmt.Errorf("storage: publish blob: %w", err)
	}
	return ref, nil
}

func (f *FileBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	path, err := f.path(ref)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

// Delete overwrites the blob with random bytes before unlinking it.
func (f *FileBlobStore) Delete(ctx context.Context, ref string) error {
	path, err := f.path(ref)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := shred(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: overwrite blob: %w", err)
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileBlobStore) path(ref string) (string, error) {
	if !strings.HasSuffix(ref, blobExt) || !validName(strings.TrimSuffix(ref, blobExt)) {
		return "", ErrInvalidRef
	}
	return filepath.Join(f.dir, ref), nil
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.HasPrefix(s, ".") &&
		filepath.Base(s) == s && !strings.ContainsAny(s, `/\`)
}

func writeAndSync(fh *os.File, data []byte) error {
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

func shred(path string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer fh.Close()
	st, err := fh.Stat()
	if err != nil {
		return err
	}
	if _, err := io.CopyN(fh, rand.Reader, st.Size()); err != nil {
		return err
	}
	return fh.Sync()
}
