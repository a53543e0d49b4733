package ndm

import (
	"encoding/json"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/chunklist"
	"github.com/buckyos/nds/internal/ndserr"
)

// chunkListBody is the on-object-store shape of a chunk-list object: an
// ordered array of chunk references with their sizes.
type chunkListBody struct {
	Chunks []struct {
		ChunkID string `json:"chunk_id"`
		Size    int64  `json:"size"`
	} `json:"chunks"`
}

// OpenChunklistReader materializes the chunk list named by
// chunklistObjID and returns a single logical stream over it, seeked
// to seekFrom, plus the list's total size.
func (m *Manager) OpenChunklistReader(chunklistObjID chunking.ObjId, seekFrom int64, autoCache bool) (*chunklist.Reader, int64, error) {
	raw, err := m.GetObject(chunklistObjID, "")
	if err != nil {
		return nil, 0, err
	}

	var body chunkListBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, 0, ndserr.Wrap(ndserr.InvalidData, "decode chunk list object", err)
	}

	entries := make([]chunklist.Entry, 0, len(body.Chunks))
	for _, c := range body.Chunks {
		id, err := chunking.ParseChunkId(c.ChunkID)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, chunklist.Entry{ID: id, Size: c.Size})
	}

	list := chunklist.NewList(entries)
	reader, err := chunklist.NewReader(m, list, seekFrom, autoCache)
	if err != nil {
		return nil, 0, err
	}
	return reader, list.TotalSize(), nil
}
