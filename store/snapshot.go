package store

import (
	"io"
	"os"
	"path/filepath"
)

// copyFile copies src to dst, creating dst's parent directory if
// needed. Used by snapshot create/restore, which copy the on-disk
// layout file-by-file rather than directory-renaming (a snapshot lives
// alongside the live store under snapshots/<name>/, not swapped in for
// it).
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// snapshotFiles lists the on-disk layout files a snapshot copies
// (spec §4.4 "same layout, atomic copy"). text_index.json and hnsw.idx
// are optional in the source and simply skipped if absent.
var snapshotFiles = []string{manifestFile, recordsFile, idMapsFile, hnswFile, textIndexFile}

func copyStoreFiles(srcRoot, dstRoot string, cancel func() bool) error {
	for _, name := range snapshotFiles {
		if cancel != nil && cancel() {
			return ErrCancelled
		}
		src := filepath.Join(srcRoot, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, filepath.Join(dstRoot, name)); err != nil {
			return wrapErr(KindIO, "copying "+name, err)
		}
	}
	return nil
}
