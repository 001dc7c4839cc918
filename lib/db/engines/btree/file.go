package btree

import (
	"errors"
	"os"

	"github.com/ValentinKolb/ikv/lib/db"
	"golang.org/x/sys/unix"
)

// openRepository opens (and depending on mode creates and locks) the snapshot file at path.
// Writers take an exclusive lock, readers a shared one.
func openRepository(path string, mode db.Mode) (*os.File, error) {
	flags := os.O_RDONLY
	if mode.Has(db.OWriter) {
		flags = os.O_RDWR
		if mode.Has(db.OCreate) {
			flags |= os.O_CREATE
		}
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, db.Wrap(db.StatusNoRepos, err, "open "+path)
		case errors.Is(err, os.ErrPermission):
			return nil, db.Wrap(db.StatusNoPerm, err, "open "+path)
		default:
			return nil, db.Wrap(db.StatusSystem, err, "open "+path)
		}
	}

	if mode.Has(db.ONoLock) {
		return file, nil
	}

	how := unix.LOCK_SH
	if mode.Has(db.OWriter) {
		how = unix.LOCK_EX
	}
	if mode.Has(db.OTryLock) {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(file.Fd()), how); err != nil {
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, db.Wrap(db.StatusInvalid, err, "repository is locked: "+path)
		}
		return nil, db.Wrap(db.StatusSystem, err, "lock "+path)
	}
	return file, nil
}

// closeRepository unlocks and closes the snapshot file
func closeRepository(file *os.File, mode db.Mode) error {
	if !mode.Has(db.ONoLock) {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
	}
	if err := file.Close(); err != nil {
		return db.Wrap(db.StatusSystem, err, "close repository")
	}
	return nil
}

func syncFile(file *os.File) error {
	return unix.Fsync(int(file.Fd()))
}
