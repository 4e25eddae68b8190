package docstore

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte document id: 4 bytes of unix time, 5 random bytes
// fixed per process and a 3-byte counter.
type ObjectID [12]byte

var (
	processUnique = func() [5]byte {
		var b [5]byte
		_, _ = io.ReadFull(rand.Reader, b[:])
		return b
	}()
	oidCounter = func() uint32 {
		var b [4]byte
		_, _ = io.ReadFull(rand.Reader, b[:])
		return binary.BigEndian.Uint32(b[:])
	}()
)

func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], processUnique[:])
	c := atomic.AddUint32(&oidCounter, 1)
	id[9], id[10], id[11] = byte(c>>16), byte(c>>8), byte(c)
	return id
}

// ParseObjectID decodes 24 hex characters.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("invalid object id %q", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid object id %q", s)
	}
	return id, nil
}

func (id ObjectID) Hex() string { return hex.EncodeToString(id[:]) }

func (id ObjectID) String() string { return "ObjectID(" + id.Hex() + ")" }

func (id ObjectID) Compare(other ObjectID) int { return bytes.Compare(id[:], other[:]) }

// MarshalJSON renders the extended JSON form {"$oid": "<hex>"}.
func (id ObjectID) MarshalJSON() ([]byte, error) {
	return []byte(`{"$oid":"` + id.Hex() + `"}`), nil
}

func (id *ObjectID) UnmarshalJSON(data []byte) error {
	var v struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseObjectID(v.OID)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
