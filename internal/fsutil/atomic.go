package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"

	"github.com/hpungsan/spendcat/internal/errors"
)

// WriteFileAtomic writes path by streaming into a temp file in the same directory,
// syncing it, and renaming it into place. On failure the existing file is preserved
// and the temp file removed.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return eris.Wrap(err, "failed to create parent directory")
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return eris.Wrap(err, "failed to generate temp file name")
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := OpenNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if err := write(file); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return eris.Wrap(err, "failed to sync temp file")
	}

	// Close before atomic replace (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return eris.Wrap(err, "failed to close temp file")
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("destination is a symlink")
	}

	// On Windows, os.Rename fails if the destination exists. Fail safely rather than
	// delete+rename, which could lose the original.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("destination already exists; overwriting is not supported on Windows")
			}
		}
		return eris.Wrap(err, "failed to rename temp file into place")
	}
	success = true

	syncDir(dir)
	return nil
}

// WriteBytesAtomic is WriteFileAtomic for an in-memory payload.
func WriteBytesAtomic(path string, perm os.FileMode, data []byte) error {
	return WriteFileAtomic(path, perm, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return eris.Wrap(err, "failed to write payload")
		}
		return nil
	})
}

// ReadFileNoFollow reads a whole file, refusing a symlinked final component.
func ReadFileNoFollow(path string) ([]byte, error) {
	f, err := OpenNoFollowRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}
	return data, nil
}

// syncDir persists the rename. Best-effort: not every platform supports syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
