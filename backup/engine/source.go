package engine

import (
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/buckyos/nds/internal/ndserr"
)

// ChunkSource reads one chunk's worth of bytes out of the file being
// backed up, positionally, without buffering the whole file.
type ChunkSource interface {
	ReadChunk(filePath string, chunkSeq int, chunkSize, fileSize int64) ([]byte, error)
}

// LocalChunkSource reads chunks from a directory on an afero
// filesystem by streaming: it seeks to the chunk's offset and reads at
// most chunkSize bytes, never the whole file.
type LocalChunkSource struct {
	fs      afero.Fs
	dirPath string
}

// NewLocalChunkSource roots chunk reads at dirPath on fs.
func NewLocalChunkSource(fs afero.Fs, dirPath string) *LocalChunkSource {
	return &LocalChunkSource{fs: fs, dirPath: dirPath}
}

func (s *LocalChunkSource) ReadChunk(filePath string, chunkSeq int, chunkSize, fileSize int64) ([]byte, error) {
	offset := int64(chunkSeq) * chunkSize
	if offset >= fileSize {
		return nil, ndserr.New(ndserr.InvalidParam, "chunk_seq out of range")
	}
	want := chunkSize
	if offset+want > fileSize {
		want = fileSize - offset
	}

	f, err := s.fs.Open(filepath.Join(s.dirPath, filePath))
	if err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "open backup source file", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "seek backup source file", err)
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "read backup source chunk", err)
	}
	return buf, nil
}
