package ndm

import (
	"io"

	"github.com/spf13/afero"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// PubLocalFileAsFileObj hashes a local file, writes it into the
// manager's chunk store if not already present, wraps it in a
// FileObject body built from fileTemplate, and publishes path
// bindings for both the FileObject and the raw chunk.
func (m *Manager) PubLocalFileAsFileObj(
	localFs afero.Fs,
	localPath, ndnPath, ndnContentPath string,
	fileTemplate map[string]interface{},
	userID, appID string,
) (chunking.ObjId, error) {
	id, size, err := hashLocalFile(localFs, localPath)
	if err != nil {
		return chunking.ObjId{}, err
	}

	have, err := m.HaveChunk(id)
	if err != nil {
		return chunking.ObjId{}, err
	}
	if !have {
		if err := m.writeLocalFileAsChunk(localFs, localPath, id); err != nil {
			return chunking.ObjId{}, err
		}
	}

	body := make(map[string]interface{}, len(fileTemplate)+2)
	for k, v := range fileTemplate {
		body[k] = v
	}
	body["content"] = id.String()
	body["size"] = size

	fileObjID, err := m.PutObject("file", body)
	if err != nil {
		return chunking.ObjId{}, err
	}

	if err := m.SetFile(ndnPath, fileObjID.String(), appID, userID); err != nil {
		return chunking.ObjId{}, err
	}
	if err := m.SetFile(ndnContentPath, id.ToObjId().String(), appID, userID); err != nil {
		return chunking.ObjId{}, err
	}

	return fileObjID, nil
}

func hashLocalFile(fs afero.Fs, path string) (chunking.ChunkId, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return chunking.ChunkId{}, 0, ndserr.Wrap(ndserr.IoError, "open local file", err)
	}
	defer f.Close()
	return chunking.CalcFromReader(chunking.SHA256, f)
}

func (m *Manager) writeLocalFileAsChunk(fs afero.Fs, path string, id chunking.ChunkId) error {
	f, err := fs.Open(path)
	if err != nil {
		return ndserr.Wrap(ndserr.IoError, "open local file", err)
	}
	defer f.Close()

	if err := m.OpenChunkWriter(id); err != nil {
		return err
	}

	buf := make([]byte, 64*1024)
	var offset int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := m.UpdateChunkProgress(id, buf[:n], offset); err != nil {
				return err
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ndserr.Wrap(ndserr.IoError, "read local file", readErr)
		}
	}

	_, err = m.CompleteChunkWriter(id)
	return err
}
