package btree

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/klauspost/compress/zstd"
)

// --------------------------------------------------------------------------
// Snapshot format
// --------------------------------------------------------------------------
//
// A snapshot file is a zstd stream containing:
//
//	magic   [8]byte  "IKVTREE\x00"
//	version uint8
//	count   uint64
//	count x { keyLen uint32, key, valueLen uint32, value }
//
// All integers are little endian. An empty file is an empty tree.

const (
	magicNum        = "IKVTREE\x00"
	snapshotVersion = 1
)

// save writes the whole tree to file, replacing its previous content.
//
// Thread-safety: must be called with t.mu held.
func (t *treeImpl) save(file *os.File, hard bool) error {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return db.Wrap(db.StatusSystem, err, "seek snapshot")
	}
	if err := file.Truncate(0); err != nil {
		return db.Wrap(db.StatusSystem, err, "truncate snapshot")
	}

	zw, err := zstd.NewWriter(file)
	if err != nil {
		return db.Wrap(db.StatusSystem, err, "create snapshot encoder")
	}
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(zw, 256*1024)

	if err := writeSnapshot(bw, t.data.Len(), func(fn func(item) bool) { t.data.Ascend(fn) }); err != nil {
		_ = zw.Close()
		return db.Wrap(db.StatusSystem, err, "write snapshot")
	}
	if err := bw.Flush(); err != nil {
		_ = zw.Close()
		return db.Wrap(db.StatusSystem, err, "flush snapshot")
	}
	if err := zw.Close(); err != nil {
		return db.Wrap(db.StatusSystem, err, "close snapshot encoder")
	}

	if hard {
		if err := syncFile(file); err != nil {
			return db.Wrap(db.StatusSystem, err, "sync snapshot")
		}
	}
	log.Debugf("saved snapshot %s (records=%d, hard=%t)", t.path, t.data.Len(), hard)
	return nil
}

func writeSnapshot(w io.Writer, count int, ascend func(func(item) bool)) error {
	if _, err := io.WriteString(w, magicNum); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(count)); err != nil {
		return err
	}

	var werr error
	ascend(func(it item) bool {
		if werr = writeChunk(w, it.key); werr != nil {
			return false
		}
		werr = writeChunk(w, it.value)
		return werr == nil
	})
	return werr
}

func writeChunk(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// load replaces the tree content with the snapshot stored in file.
//
// Thread-safety: must be called with t.mu held.
func (t *treeImpl) load(file *os.File) error {
	stat, err := file.Stat()
	if err != nil {
		return db.Wrap(db.StatusSystem, err, "stat snapshot")
	}
	if stat.Size() == 0 {
		return nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return db.Wrap(db.StatusSystem, err, "seek snapshot")
	}

	err = t.decode(file)
	if err != nil {
		t.data.Clear(false)
		if t.mode.Has(db.ONoRepair) || !t.mode.Has(db.OWriter) {
			return db.Wrap(db.StatusBroken, err, "read snapshot")
		}
		// a writer starts over with an empty tree, the broken file is overwritten by the next save
		log.Warningf("discarding broken snapshot %s: %v", t.path, err)
		t.dirty = true
	}
	return nil
}

func (t *treeImpl) decode(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	return readSnapshot(bufio.NewReaderSize(zr, 256*1024), func(key, value []byte) {
		t.data.ReplaceOrInsert(item{key: key, value: value})
	})
}

func readSnapshot(r io.Reader, fn func(key, value []byte)) error {
	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != magicNum {
		return errors.New("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return errors.New("unsupported snapshot version")
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}

	for i := uint64(0); i < count; i++ {
		key, err := readChunk(r)
		if err != nil {
			return err
		}
		value, err := readChunk(r)
		if err != nil {
			return err
		}
		fn(key, value)
	}
	return nil
}

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
