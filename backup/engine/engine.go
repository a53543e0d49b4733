package engine

import (
	"bytes"
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/buckyos/nds/backup/storage"
	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/metrics"
	"github.com/buckyos/nds/internal/ndserr"
)

// stopCommand is the only control message the run loop understands.
type stopCommand struct{}

// Engine runs the per-task control loop in §4.G against a Storage and
// a pool of remote servers reached through a Selector.
type Engine struct {
	storage  *storage.Storage
	selector *Selector
	source   ChunkSource
	backoff  BackoffPolicy
	metrics  *metrics.Registry
	limiter  *rate.Limiter

	controlsMu sync.Mutex
	controls   map[string]chan stopCommand
}

// Options configures a new Engine.
type Options struct {
	Storage  *storage.Storage
	Selector *Selector
	Source   ChunkSource
	Backoff  BackoffPolicy
	Metrics  *metrics.Registry
	// Limiter throttles chunk upload bytes/sec across every task this
	// Engine runs. Nil means unthrottled.
	Limiter *rate.Limiter
}

// New builds an Engine. A zero-value Backoff is replaced with
// DefaultBackoffPolicy.
func New(opts Options) *Engine {
	backoff := opts.Backoff
	if backoff.Base == 0 {
		backoff = DefaultBackoffPolicy()
	}
	return &Engine{
		storage:  opts.Storage,
		selector: opts.Selector,
		source:   opts.Source,
		backoff:  backoff,
		metrics:  opts.Metrics,
		limiter:  opts.Limiter,
		controls: make(map[string]chan stopCommand),
	}
}

// Stop requests that taskID's run loop halt at its next file boundary.
// The control channel has capacity 1024; Stop never blocks, and once
// 1024 commands are pending further ones are dropped.
func (e *Engine) Stop(taskID string) {
	ch := e.controlChannel(taskID)
	select {
	case ch <- stopCommand{}:
	default:
	}
}

func (e *Engine) controlChannel(taskID string) chan stopCommand {
	e.controlsMu.Lock()
	defer e.controlsMu.Unlock()
	ch, ok := e.controls[taskID]
	if !ok {
		ch = make(chan stopCommand, 1024)
		e.controls[taskID] = ch
	}
	return ch
}

// RunOnce executes one pass of the run-once algorithm for taskID.
// Every expected failure surfaces as Event{State: StateErrorAndRetry},
// never as a returned error — only a caller-cancelled context produces
// a Go error, since that is not a condition the loop itself observed.
func (e *Engine) RunOnce(ctx context.Context, taskID string) Event {
	e.metrics.ObserveTaskState(StateRunning.String())

	task, err := e.storage.GetTask(taskID)
	if err != nil {
		return e.fail(taskID, err)
	}

	ts, err := e.selector.SelectTaskServer()
	if err != nil {
		return e.fail(taskID, err)
	}

	pushed, err := e.storage.IsTaskInfoPushed(taskID)
	if err != nil {
		return e.fail(taskID, err)
	}
	if !pushed {
		remoteTaskID, err := ts.PushTaskInfo(ctx, task)
		if err != nil {
			return e.fail(taskID, err)
		}
		if err := e.storage.SetTaskInfoPushed(taskID, remoteTaskID); err != nil {
			return e.fail(taskID, err)
		}
		task, err = e.storage.GetTask(taskID)
		if err != nil {
			return e.fail(taskID, err)
		}
	}
	remoteTaskID := *task.RemoteTaskID

	stopCh := e.controlChannel(taskID)
	key := storage.TaskKey{ZoneID: task.ZoneID, Key: task.Key}

	for {
		select {
		case <-stopCh:
			return Event{State: StateStopped}
		case <-ctx.Done():
			return Event{State: StateStopped, Err: ctx.Err()}
		default:
		}

		files, err := e.storage.GetIncompleteFiles(key, task.Version, 0, 1)
		if err != nil {
			return e.fail(taskID, err)
		}
		if len(files) == 0 {
			return e.finishTask(ctx, ts, task, remoteTaskID)
		}

		if err := e.processFile(ctx, ts, task, remoteTaskID, files[0]); err != nil {
			return e.fail(taskID, err)
		}
	}
}

func (e *Engine) finishTask(ctx context.Context, ts TaskServer, task storage.UploadTask, remoteTaskID string) Event {
	readiness, err := e.classifyReadiness(task)
	if err != nil {
		return e.fail(task.TaskID, err)
	}
	switch readiness {
	case readinessNotReady:
		e.metrics.ObserveTaskState(StateIdle.String())
		return Event{State: StateIdle}
	case readinessReady:
		if err := ts.SetFilesPrepareReady(ctx, remoteTaskID); err != nil {
			return e.fail(task.TaskID, err)
		}
		if err := e.storage.SetFilesPrepareReady(task.TaskID); err != nil {
			return e.fail(task.TaskID, err)
		}
		e.metrics.ObserveTaskState(StateSucceeded.String())
		return Event{State: StateSucceeded}
	default: // readinessRemoteReady
		e.metrics.ObserveTaskState(StateSucceeded.String())
		return Event{State: StateSucceeded}
	}
}

func (e *Engine) classifyReadiness(task storage.UploadTask) (fileReadiness, error) {
	if !task.IsAllFilesReady {
		return readinessNotReady, nil
	}
	remoteReady, err := e.storage.IsFilesPrepareReady(task.TaskID)
	if err != nil {
		return 0, err
	}
	if remoteReady {
		return readinessRemoteReady, nil
	}
	return readinessReady, nil
}

func (e *Engine) fail(taskID string, err error) Event {
	_ = e.storage.RecordTaskFailure(taskID)
	e.metrics.ObserveTaskState(StateErrorAndRetry.String())
	return Event{State: StateErrorAndRetry, Err: err}
}

// processFile pushes file/chunk manifests as needed and uploads every
// chunk not yet marked uploaded, sequentially (no parallel chunk
// upload within one file).
func (e *Engine) processFile(ctx context.Context, ts TaskServer, task storage.UploadTask, remoteTaskID string, file storage.UploadFile) error {
	if file.RemoteFileID == nil {
		fs, err := e.selector.SelectNewFileServer()
		if err != nil {
			return err
		}
		remoteFileID, chunkSize, err := fs.Client.AddFile(ctx, remoteTaskID, file)
		if err != nil {
			return err
		}
		if err := e.storage.SetFileInfoPushed(task.TaskID, file.FileSeq, fs.Type, fs.Name, remoteFileID, chunkSize); err != nil {
			return err
		}
		file, err = e.storage.GetFile(task.TaskID, file.FileSeq)
		if err != nil {
			return err
		}
	}

	fs, err := e.selector.LookupFileServer(*file.ServerType, *file.ServerName)
	if err != nil {
		return err
	}
	chunkSize := *file.ChunkSize
	chunkCount := ceilDiv(file.FileSize, chunkSize)

	for chunkSeq := 0; int64(chunkSeq) < chunkCount; chunkSeq++ {
		if err := e.processChunk(ctx, ts, fs, task, remoteTaskID, file, chunkSeq, chunkCount); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) processChunk(ctx context.Context, ts TaskServer, fs FileServer, task storage.UploadTask, remoteTaskID string, file storage.UploadFile, chunkSeq int, chunkCount int64) error {
	pushed, err := e.storage.IsChunkInfoPushed(task.TaskID, file.FileSeq, chunkSeq)
	if err != nil && ndserr.CodeOf(err) != ndserr.NotFound {
		return err
	}

	if !pushed {
		data, err := e.source.ReadChunk(file.FilePath, chunkSeq, *file.ChunkSize, file.FileSize)
		if err != nil {
			return err
		}
		id, _, err := chunking.CalcFromReader(chunking.SHA256, bytes.NewReader(data))
		if err != nil {
			return err
		}
		chunkHash := id.String()

		chunkServerType, chunkServerName, remoteChunkID, err := fs.Client.AddChunk(ctx, *file.RemoteFileID, chunkSeq, chunkHash, int64(len(data)))
		if err != nil {
			return err
		}
		if err := e.storage.SetChunkInfoPushed(task.TaskID, file.FileSeq, chunkSeq, chunkHash, chunkServerType, chunkServerName, remoteChunkID); err != nil {
			return err
		}
	}

	chunk, err := e.storage.GetChunk(task.TaskID, file.FileSeq, chunkSeq)
	if err != nil {
		return err
	}

	if chunk.IsUploaded {
		return nil
	}

	cs, err := e.selector.LookupChunkServer(*chunk.ServerType, *chunk.ServerName)
	if err != nil {
		return err
	}
	data, err := e.source.ReadChunk(file.FilePath, chunkSeq, *file.ChunkSize, file.FileSize)
	if err != nil {
		return err
	}
	if e.limiter != nil {
		if err := e.limiter.WaitN(ctx, len(data)); err != nil {
			return ndserr.Wrap(ndserr.IoError, "rate limit wait", err)
		}
	}
	if err := cs.Client.UploadChunk(ctx, *chunk.RemoteChunkID, data); err != nil {
		return err
	}
	if err := fs.Client.SetChunkUploaded(ctx, *file.RemoteFileID, chunkSeq); err != nil {
		return err
	}

	if int64(chunkSeq) == chunkCount-1 {
		// Terminal remote call happens before the local uploaded bit
		// for the last chunk, so a crash between the two re-issues
		// this idempotent call on resume rather than losing it.
		if err := ts.SetFileUploaded(ctx, remoteTaskID, file.FilePath); err != nil {
			return err
		}
		_ = e.storage.SetFileUploaded(task.TaskID, file.FileSeq)
	}

	if err := e.storage.SetChunkUploaded(task.TaskID, file.FileSeq, chunkSeq); err != nil {
		return err
	}
	e.metrics.ObserveChunkUploaded(int64(len(data)))
	return nil
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
