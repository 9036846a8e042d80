package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 4 << 20 // 4 MiB

// HandlerFunc implements one control API method. Params arrive as raw
// JSON; the returned value is marshaled into the response result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server accepts line-delimited JSON-RPC connections on a Unix socket.
type Server struct {
	socketPath string
	log        *slog.Logger

	mu       sync.Mutex
	methods  map[string]HandlerFunc
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer builds a server bound to socketPath once started.
func NewServer(socketPath string, log *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		log:        log,
		methods:    make(map[string]HandlerFunc),
	}
}

// Handle registers a method. Registration after ListenAndServe is not
// supported.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = fn
}

// ListenAndServe binds the socket and serves connections until ctx is
// cancelled. A stale socket file from a previous run is removed first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return rmerr.Wrap(rmerr.KindPermanentIO, err, "create socket directory")
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return rmerr.Wrap(rmerr.KindPermanentIO, err, "remove stale socket %s", s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return rmerr.Wrap(rmerr.KindPermanentIO, err, "listen on %s", s.socketPath)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("control server listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.shutdown
			s.mu.Unlock()
			if stopping {
				break
			}
			s.log.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}

// serveConn handles one client: requests in, responses out, one JSON
// object per line.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		payload, err := json.Marshal(resp)
		if err != nil {
			s.log.Error("response marshal failed", slog.String("error", err.Error()))
			return
		}
		payload = append(payload, '\n')
		if _, err := writer.Write(payload); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// handleLine parses and dispatches a single request line.
func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return NewErrorResponse(nil, ErrCodeParseError, "invalid JSON: "+err.Error())
	}
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "method is required")
	}

	s.mu.Lock()
	fn, ok := s.methods[req.Method]
	s.mu.Unlock()
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, codeForError(err), err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// codeForError maps internal error kinds onto JSON-RPC error codes.
func codeForError(err error) int {
	switch rmerr.KindOf(err) {
	case rmerr.KindValidation:
		return ErrCodeInvalidParams
	case rmerr.KindNotFound:
		return ErrCodeNotFound
	case rmerr.KindSchemaConflict:
		return ErrCodeSchemaConflict
	case rmerr.KindTransientIO, rmerr.KindQueueContention:
		return ErrCodeUnavailable
	default:
		return ErrCodeInternalError
	}
}
