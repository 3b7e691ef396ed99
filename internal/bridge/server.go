package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rescale/rescale-sftp/internal/connection"
	"github.com/rescale/rescale-sftp/internal/core"
	"github.com/rescale/rescale-sftp/internal/errs"
	"github.com/rescale/rescale-sftp/internal/events"
	"github.com/rescale/rescale-sftp/internal/logging"
	"github.com/rescale/rescale-sftp/internal/remotefs"
	"github.com/rescale/rescale-sftp/internal/transfer"
)

// maxLineSize bounds one request line.
const maxLineSize = 1024 * 1024

// Server reads commands from one stream and writes responses and events to another.
// Commands run concurrently; each response echoes its request id.
type Server struct {
	engine *core.Engine
	logger *logging.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	// Throttling for progress messages, on top of the coordinator's own interval
	mu               sync.Mutex
	lastProgress     map[string]time.Time
	progressInterval time.Duration

	handlers sync.WaitGroup
}

// NewServer creates a server writing to out. logger may be nil.
func NewServer(engine *core.Engine, out io.Writer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		engine:       engine,
		logger:       logger.Component("bridge"),
		enc:          json.NewEncoder(out),
		lastProgress: make(map[string]time.Time),
	}
}

// SetProgressInterval sets the minimum gap between two progress messages of one transfer.
// Zero forwards every progress event. The first and the final progress message of a
// transfer are never throttled.
func (s *Server) SetProgressInterval(d time.Duration) {
	s.mu.Lock()
	s.progressInterval = d
	s.mu.Unlock()
}

// Serve processes requests from in until it is exhausted or ctx ends, then waits for the
// commands in flight. Events are forwarded for as long as Serve runs.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := s.engine.Events()
	sub := bus.SubscribeAll()
	stopC := make(chan struct{})
	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go s.forwardLoop(sub, stopC, &forwarder)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.logger.Debug().Msg("Bridge serving")

	var err error
loop:
	for {
		select {
		case line := <-lines:
			s.dispatch(ctx, line)
		case err = <-readErr:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	s.handlers.Wait()
	close(stopC)
	forwarder.Wait()
	bus.UnsubscribeAll(sub)

	s.logger.Debug().Msg("Bridge stopped")
	if err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}

	req, err := DecodeRequest(line)
	if err != nil {
		id := ""
		if req != nil {
			id = req.ID
		}
		s.logger.Warn().Err(err).Msg("Failed to decode request")
		s.write(NewErrorResponse(id, errs.New(errs.InvalidArgument, "decode", err)))
		return
	}

	s.logger.Debug().Str("id", req.ID).Str("command", string(req.Command)).Msg("Received request")

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		result, err := s.handle(ctx, req)
		if err != nil {
			s.write(NewErrorResponse(req.ID, err))
			return
		}
		s.write(NewOKResponse(req.ID, result))
	}()
}

// handle runs one command and returns its result.
func (s *Server) handle(ctx context.Context, req *Request) (interface{}, error) {
	e := s.engine

	switch req.Command {
	case CmdConnect:
		var p core.ConnectRequest
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return e.Connect(ctx, p)

	case CmdDisconnect:
		var p ConnectionParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return nil, e.Disconnect(p.ConnectionID)

	case CmdListDirectory:
		var p ListDirectoryParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		opts := remotefs.ListOptions{HideDotfiles: p.HideDotfiles, DirsFirst: p.DirsFirst}
		entries, err := e.ListDirectoryWith(ctx, p.ConnectionID, p.Path, opts)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []remotefs.FileEntry{}
		}
		return entries, nil

	case CmdUploadFile:
		var p UploadParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return e.UploadFile(p.ConnectionID, p.LocalPath, p.RemotePath)

	case CmdDownloadFile:
		var p DownloadParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return e.DownloadFile(p.ConnectionID, p.RemotePath, p.LocalPath)

	case CmdCancelTransfer:
		var p TransferParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return nil, e.CancelTransfer(p.TransferID)

	case CmdCreateDirectory:
		var p PathParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return nil, e.CreateDirectory(ctx, p.ConnectionID, p.Path)

	case CmdDelete:
		var p DeleteParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return nil, e.Delete(ctx, p.ConnectionID, p.Path, p.IsDir)

	case CmdRename:
		var p RenameParams
		if err := req.decodeParams(&p); err != nil {
			return nil, err
		}
		return nil, e.Rename(ctx, p.ConnectionID, p.OldPath, p.NewPath)

	case CmdListTransfers:
		list := e.ListTransfers()
		if list == nil {
			list = []transfer.Info{}
		}
		return list, nil

	case CmdListConnections:
		list := e.ListConnections()
		if list == nil {
			list = []connection.Info{}
		}
		return list, nil
	}

	return nil, errs.WithPath(errs.InvalidArgument, "dispatch", string(req.Command), errors.New("unknown command"))
}

func (s *Server) forwardLoop(sub <-chan events.Event, stopC <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.forwardEvent(event)

		case <-stopC:
			return
		}
	}
}

func (s *Server) forwardEvent(event events.Event) {
	switch e := event.(type) {
	case *events.TransferProgressEvent:
		final := e.Total != events.UnknownTotal && e.Transferred == e.Total
		if !final && s.shouldThrottle(e.TransferID) {
			return
		}
	case *events.TransferFinishedEvent:
		s.mu.Lock()
		delete(s.lastProgress, e.TransferID)
		s.mu.Unlock()
	}

	for _, msg := range translate(event) {
		s.write(msg)
	}
}

func (s *Server) shouldThrottle(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if last, ok := s.lastProgress[key]; ok {
		if now.Sub(last) < s.progressInterval {
			return true
		}
	}
	s.lastProgress[key] = now
	return false
}

func (s *Server) write(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.enc.Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write message")
	}
}
