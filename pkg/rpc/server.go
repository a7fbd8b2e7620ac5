// Package rpc is a small JSON-over-TCP request/response protocol used for
// service-to-service calls into the search engine.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// Request carries a method name of the form "Service.Method"; each Response
// echoes the request ID and carries either data or an error with a code that
// the client maps back to a sentinel error.
//
//	s := rpc.NewServer()
//	s.Register("SearchService.Search", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    ...
//	})
//	go s.Serve(":9000")
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/errors"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// Error codes carried in Response.Code.
const (
	CodeInvalidInput = "invalid_input"
	CodeUnavailable  = "unavailable"
	CodeNotFound     = "not_found"
	CodeTimeout      = "timeout"
	CodeUnknown      = "unknown"
)

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers       map[string]HandlerFunc
	requestTimeout time.Duration
	listener       net.Listener
	logger         *slog.Logger
	mu             sync.RWMutex
	wg             sync.WaitGroup
	done           chan struct{}
	stopOnce       sync.Once
}

// NewServer creates a server. Each request's context is bounded by
// requestTimeout when it is positive.
func NewServer(requestTimeout time.Duration) *Server {
	return &Server{
		handlers:       make(map[string]HandlerFunc),
		requestTimeout: requestTimeout,
		logger:         slog.Default().With("component", "rpc-server"),
		done:           make(chan struct{}),
	}
}

// Register adds a handler for the given RPC method name.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve listens on addr and blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections on ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{ID: req.ID}

	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()
	if !exists {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = CodeInvalidInput
		return resp
	}

	ctx := context.Background()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	data, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		resp.Code = codeFor(err)
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		resp.Error = fmt.Sprintf("marshaling response: %v", err)
		resp.Code = CodeUnknown
		return resp
	}
	resp.Data = raw
	return resp
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, apperrors.ErrIndexUnavailable):
		return CodeUnavailable
	case errors.Is(err, apperrors.ErrDocumentNotFound):
		return CodeNotFound
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and waits for open connections to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.RLock()
		ln := s.listener
		s.mu.RUnlock()
		if ln != nil {
			ln.Close()
		}
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
