// Package server speaks the language server protocol on a stream pair,
// keeps the open document set, and forwards language queries to the
// analysis engine through a bridge session. Engine trouble never fails
// a request: handlers degrade to empty or null results so the editor
// keeps working while the engine misbehaves.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/dshills/daxls/internal/debug"
	"github.com/dshills/daxls/internal/document"
	"github.com/dshills/daxls/internal/protocol"
)

// Bridge is the slice of the engine session the server drives. It is an
// interface so tests can substitute a scripted engine.
type Bridge interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Config carries server construction options.
type Config struct {
	// Version is reported to the client in the initialize result.
	Version string
	// Logger receives server diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *debug.Metrics
}

// Server is one editor session. Notifications are handled in arrival
// order on the read loop; requests run concurrently and reply through a
// serialized writer.
type Server struct {
	cfg    Config
	log    *slog.Logger
	bridge Bridge
	docs   *document.Store
	tr     *transport

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	exited      bool
	exitCode    int

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a server around the given engine bridge.
func New(b Bridge, cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		log:    log,
		bridge: b,
		docs:   document.NewStore(),
		done:   make(chan struct{}),
	}
}

// Run serves protocol traffic from r to w until the exit notification
// arrives, the client stream ends, or ctx is cancelled. Stream failures
// end the session rather than returning an error so the exit code can
// still reflect the shutdown handshake.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	s.tr = newTransport(r, w)

	type readResult struct {
		msg json.RawMessage
		err error
	}
	msgs := make(chan readResult)

	go func() {
		for {
			msg, err := s.tr.readMessage()
			select {
			case msgs <- readResult{msg: msg, err: err}:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-s.done:
			s.wg.Wait()
			return nil
		case in := <-msgs:
			if in.err != nil {
				if in.err != io.EOF {
					s.log.Warn("client stream failed", "error", in.err)
				}
				s.mu.Lock()
				if !s.shutdown {
					s.exitCode = 1
				}
				s.mu.Unlock()
				s.wg.Wait()
				return nil
			}
			s.dispatch(ctx, in.msg)
		}
	}
}

// ExitCode reports the process exit status the session calls for: 0
// after an orderly shutdown handshake, 1 otherwise.
func (s *Server) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// dispatch parses one message and routes it. Requests run in their own
// goroutine so a slow engine call never blocks document sync.
func (s *Server) dispatch(ctx context.Context, data json.RawMessage) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("discarding unparseable message", "error", err)
		s.reply(protocol.NewErrorResponse(nil, protocol.CodeParseError, "parse error"))
		return
	}
	if req.Method == "" {
		// A response or other non-request traffic from the client.
		s.log.Debug("ignoring message without method")
		return
	}
	if req.IsNotification() {
		s.handleNotification(&req)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handleRequest(ctx, &req)
	}()
}

func (s *Server) handleNotification(req *protocol.Request) {
	switch req.Method {
	case "initialized":
		s.log.Debug("client reported ready")

	case "textDocument/didOpen":
		var params protocol.DidOpenTextDocumentParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.log.Warn("bad didOpen params", "error", err)
			return
		}
		td := params.TextDocument
		s.docs.Open(td.URI, td.LanguageID, td.Version, td.Text)
		s.cfg.Metrics.SetOpenDocuments(s.docs.Len())
		s.log.Debug("document opened", "uri", td.URI, "version", td.Version)

	case "textDocument/didChange":
		var params protocol.DidChangeTextDocumentParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.log.Warn("bad didChange params", "error", err)
			return
		}
		if _, err := s.docs.Apply(params.TextDocument.URI, params.TextDocument.Version, params.ContentChanges); err != nil {
			s.log.Warn("change not applied", "uri", params.TextDocument.URI, "error", err)
		}

	case "textDocument/didClose":
		var params protocol.DidCloseTextDocumentParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.log.Warn("bad didClose params", "error", err)
			return
		}
		s.docs.Close(params.TextDocument.URI)
		s.cfg.Metrics.SetOpenDocuments(s.docs.Len())
		s.log.Debug("document closed", "uri", params.TextDocument.URI)

	case "exit":
		s.exit()

	case "$/cancelRequest", "$/setTrace":
		// Accepted and ignored.

	default:
		s.log.Debug("ignoring notification", "method", req.Method)
	}
}

// exit records the final status and releases Run. The exit code is 1
// when the client skipped the shutdown request.
func (s *Server) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return
	}
	s.exited = true
	if !s.shutdown {
		s.exitCode = 1
	}
	close(s.done)
}

func (s *Server) reply(resp *protocol.Response) {
	if err := s.tr.writeMessage(resp); err != nil {
		s.log.Error("reply not delivered", "error", err)
	}
}
