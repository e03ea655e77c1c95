package fs

import (
	"crypto/rand"
	"fmt"
	"os"
)

// secureOverwriteCap bounds the size of files that get overwritten
// before deletion. Materialized remaining-hash files are usually
// small; anything at or above 1 MiB is just unlinked.
const secureOverwriteCap = 1 << 20

// SecureRemove deletes the file at path, first overwriting its
// contents with random bytes of the same length when the file is
// smaller than 1 MiB. Hash material should not linger in unallocated
// blocks after an attack finishes.
//
// Removing a file that does not exist is not an error.
func SecureRemove(fsys FS, path string) error {
	info, err := fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("stat before secure remove: %w", err)
	}

	if info.Mode().IsRegular() && info.Size() > 0 && info.Size() < secureOverwriteCap {
		if err := overwriteRandom(fsys, path, info.Size()); err != nil {
			return fmt.Errorf("overwriting %s: %w", path, err)
		}
	}

	if err := fsys.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}

	return nil
}

func overwriteRandom(fsys FS, path string, size int64) error {
	f, openErr := fsys.OpenFile(path, os.O_WRONLY, 0)
	if openErr != nil {
		return openErr
	}

	noise := make([]byte, size)
	if _, err := rand.Read(noise); err != nil {
		_ = f.Close()

		return err
	}

	if _, err := f.Write(noise); err != nil {
		_ = f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}
