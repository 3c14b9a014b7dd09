package store

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// dirLock is an advisory, best-effort guard against two processes
// opening the same store directory concurrently. Spec §6 leaves
// concurrent multi-process writers formally undefined ("callers should
// arrange exclusivity"); this gives Open something to arrange it with,
// the way Aman-CERP-amanmcp's embed.FileLock guards its own index
// directory.
type dirLock struct {
	fl *flock.Flock
}

func acquireDirLock(root string) (*dirLock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(root, ".lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, wrapErr(KindIO, "store directory is locked by another process", os.ErrExist)
	}
	return &dirLock{fl: fl}, nil
}

func (l *dirLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
