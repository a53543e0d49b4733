package chunking

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/buckyos/nds/internal/ndserr"
)

// ObjId is the content-addressed name of a typed JSON object: the
// SHA-256 of the object's canonical JSON, prefixed by its type tag.
type ObjId struct {
	Type string
	Hash []byte // 32-byte SHA-256 digest
}

// String renders id as "<obj_type>:<base32(sha256(canonical_json))>".
func (id ObjId) String() string {
	return fmt.Sprintf("%s:%s", id.Type, b32encode(id.Hash))
}

// ParseObjId parses the textual form produced by String.
func ParseObjId(s string) (ObjId, error) {
	objType, encoded, ok := strings.Cut(s, ":")
	if !ok || objType == "" {
		return ObjId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("malformed obj id %q", s))
	}
	raw, err := b32decode(encoded)
	if err != nil {
		return ObjId{}, ndserr.Wrap(ndserr.InvalidParam, "base32 decode obj id", err)
	}
	if len(raw) != sha256.Size {
		return ObjId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("obj id %q has wrong hash length", s))
	}
	return ObjId{Type: objType, Hash: raw}, nil
}

// Equal reports whether id and other name the same object.
func (id ObjId) Equal(other ObjId) bool {
	return id.Type == other.Type && bytes.Equal(id.Hash, other.Hash)
}

// CanonicalJSON re-marshals an arbitrary JSON-representable value with
// sorted keys and no insignificant whitespace. encoding/json already
// sorts map[string]any keys on marshal; CanonicalJSON round-trips
// through json.Unmarshal first so struct values and nested maps with
// out-of-order fields are normalized the same way.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "marshal object body", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "normalize object body", err)
	}

	canonical := canonicalize(generic)
	out, err := json.Marshal(canonical)
	if err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "marshal canonical object body", err)
	}
	return out, nil
}

// canonicalize walks a decoded JSON value and rebuilds maps as
// orderedMap so Marshal emits keys in sorted order deterministically
// regardless of the standard map type's iteration order.
func canonicalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		om := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			om = append(om, orderedMapEntry{Key: k, Value: canonicalize(val[k])})
		}
		return om
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return val
	}
}

type orderedMapEntry struct {
	Key   string
	Value interface{}
}

type orderedMap []orderedMapEntry

// MarshalJSON emits entries in the order they were built, which
// canonicalize guarantees is sorted-by-key.
func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range om {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PutObjectId computes the ObjId that put_object(objType, body) would
// derive: objType prefixed onto the SHA-256 of body's canonical JSON.
func PutObjectId(objType string, v interface{}) (ObjId, []byte, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return ObjId{}, nil, err
	}
	sum := sha256.Sum256(canonical)
	return ObjId{Type: objType, Hash: sum[:]}, canonical, nil
}
