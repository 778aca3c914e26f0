package kvdoc

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

var (
	oidMu      sync.Mutex
	oidProcess [5]byte
	oidCounter uint32
)

func init() {
	_, _ = rand.Read(oidProcess[:])
	var b [4]byte
	_, _ = rand.Read(b[:])
	oidCounter = binary.BigEndian.Uint32(b[:])
}

// NewObjectID returns a new object id: 4 bytes of seconds since the Unix
// epoch, 5 random bytes per process and a 3 bytes counter.
func NewObjectID() ObjectID {
	return NewObjectIDAt(time.Now())
}

// NewObjectIDAt returns an object id with the timestamp t.
func NewObjectIDAt(t time.Time) ObjectID {
	oidMu.Lock()
	oidCounter++
	c := oidCounter
	oidMu.Unlock()

	var o ObjectID
	binary.BigEndian.PutUint32(o[0:4], uint32(t.Unix()))
	copy(o[4:9], oidProcess[:])
	o[9] = byte(c >> 16)
	o[10] = byte(c >> 8)
	o[11] = byte(c)
	return o
}

// Time returns the timestamp part of the object id.
func (o ObjectID) Time() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(o[0:4])), 0)
}
