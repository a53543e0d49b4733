// Package store implements the physical chunk and object store: a
// filesystem-backed, write-once blob layout with resumable writers and
// a 2-level hex-fanout directory scheme.
package store

import (
	"encoding/hex"
	"path"

	"github.com/buckyos/nds/chunking"
)

const (
	partialDir   = ".partial"
	corruptedDir = ".corrupted"
	objectsDir   = "_objects"
)

// fanout splits a lowercase hex digest into its 2-char prefix and the
// remaining suffix, the same split hexfusion-fray's blobPath uses on a
// digest's algorithm/hex halves, generalized to a prefix/suffix split
// of the hex digest itself so bucket sizes stay even regardless of
// hash method.
func fanout(hexDigest string) (prefix, rest string) {
	if len(hexDigest) <= 2 {
		return hexDigest, hexDigest
	}
	return hexDigest[:2], hexDigest[2:]
}

// chunkPath returns the final resting path of a completed chunk:
// <root>/<method>/<first-2-hex>/<rest>.
func chunkPath(root string, id chunking.ChunkId) string {
	hexDigest := hex.EncodeToString(id.Hash)
	prefix, rest := fanout(hexDigest)
	return path.Join(root, string(id.Method), prefix, rest)
}

// chunkPartialPath returns the in-progress path for a chunk under
// .partial, mirroring the completed layout's fanout.
func chunkPartialPath(root string, id chunking.ChunkId) string {
	hexDigest := hex.EncodeToString(id.Hash)
	prefix, rest := fanout(hexDigest)
	return path.Join(root, partialDir, string(id.Method), prefix, rest)
}

// chunkProgressPath returns the sidecar file recording a partial
// chunk's covered byte ranges.
func chunkProgressPath(root string, id chunking.ChunkId) string {
	return chunkPartialPath(root, id) + ".progress"
}

// chunkCorruptedPath returns where a chunk that failed hash
// verification on completion is quarantined for inspection.
func chunkCorruptedPath(root string, id chunking.ChunkId) string {
	hexDigest := hex.EncodeToString(id.Hash)
	prefix, rest := fanout(hexDigest)
	return path.Join(root, corruptedDir, string(id.Method), prefix, rest)
}

// objectPath returns the path of a stored object body:
// <root>/_objects/<obj_type>/<first-2-hex>/<rest>.
func objectPath(root string, id chunking.ObjId) string {
	hexDigest := hex.EncodeToString(id.Hash)
	prefix, rest := fanout(hexDigest)
	return path.Join(root, objectsDir, id.Type, prefix, rest)
}
