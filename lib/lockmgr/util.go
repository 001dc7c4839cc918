package lockmgr

import (
	"bytes"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const separator = '|'

// generateOwnerID creates a new unique owner ID (a random UUID).
func generateOwnerID() string {
	return uuid.NewString()
}

// lockKey returns the key of the record backing the lock name
func lockKey(name string) []byte {
	return []byte(KeyPrefix + name)
}

// lockRecord is the decoded value of a lock record: "<owner>|<expiry unix nanos>".
// An expiry of zero never expires.
type lockRecord struct {
	owner  string
	expiry int64
}

func (l lockRecord) encode() []byte {
	buf := make([]byte, 0, len(l.owner)+21)
	buf = append(buf, l.owner...)
	buf = append(buf, separator)
	return strconv.AppendInt(buf, l.expiry, 10)
}

func (l lockRecord) expired(now time.Time) bool {
	return l.expiry != 0 && now.UnixNano() >= l.expiry
}

// decodeLock parses a lock record. Values that were not written by a lock manager
// are reported as not ok.
func decodeLock(value []byte) (lockRecord, bool) {
	i := bytes.LastIndexByte(value, separator)
	if i < 0 {
		return lockRecord{}, false
	}
	expiry, err := strconv.ParseInt(string(value[i+1:]), 10, 64)
	if err != nil {
		return lockRecord{}, false
	}
	return lockRecord{owner: string(value[:i]), expiry: expiry}, true
}
