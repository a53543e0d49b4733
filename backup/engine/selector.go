package engine

import (
	"github.com/buckyos/nds/internal/ndserr"
)

// Selector resolves remote servers for a task: a fresh server when
// registering a new file/chunk (round robin over the configured pool),
// and an exact lookup by (server_type, server_name) once a binding has
// already been persisted.
type Selector struct {
	taskServers  *roundRobin[TaskServer]
	fileServers  []FileServer
	chunkServers []ChunkServer
	fileRR       *roundRobin[FileServer]
	chunkRR      *roundRobin[ChunkServer]
}

// NewSelector builds a Selector over the given candidate pools.
func NewSelector(taskServers []TaskServer, fileServers []FileServer, chunkServers []ChunkServer) *Selector {
	return &Selector{
		taskServers:  newRoundRobin(taskServers),
		fileServers:  fileServers,
		chunkServers: chunkServers,
		fileRR:       newRoundRobin(fileServers),
		chunkRR:      newRoundRobin(chunkServers),
	}
}

// SelectTaskServer picks the next remote task manager.
func (s *Selector) SelectTaskServer() (TaskServer, error) {
	ts, ok := s.taskServers.Get()
	if !ok {
		return nil, ndserr.New(ndserr.NotFound, "no remote task server configured")
	}
	return ts, nil
}

// SelectNewFileServer picks the next remote file server for a file
// that has not yet been registered anywhere.
func (s *Selector) SelectNewFileServer() (FileServer, error) {
	fs, ok := s.fileRR.Get()
	if !ok {
		return FileServer{}, ndserr.New(ndserr.NotFound, "no remote file server configured")
	}
	return fs, nil
}

// SelectNewChunkServer picks the next remote chunk server for a chunk
// that has not yet been registered anywhere.
func (s *Selector) SelectNewChunkServer() (ChunkServer, error) {
	cs, ok := s.chunkRR.Get()
	if !ok {
		return ChunkServer{}, ndserr.New(ndserr.NotFound, "no remote chunk server configured")
	}
	return cs, nil
}

// LookupFileServer resolves a previously persisted (server_type, server_name) binding.
func (s *Selector) LookupFileServer(serverType, serverName string) (FileServer, error) {
	for _, fs := range s.fileServers {
		if fs.Type == serverType && fs.Name == serverName {
			return fs, nil
		}
	}
	return FileServer{}, ndserr.New(ndserr.NotFound, "file server binding not found: "+serverType+"/"+serverName)
}

// LookupChunkServer resolves a previously persisted (server_type, server_name) binding.
func (s *Selector) LookupChunkServer(serverType, serverName string) (ChunkServer, error) {
	for _, cs := range s.chunkServers {
		if cs.Type == serverType && cs.Name == serverName {
			return cs, nil
		}
	}
	return ChunkServer{}, ndserr.New(ndserr.NotFound, "chunk server binding not found: "+serverType+"/"+serverName)
}
