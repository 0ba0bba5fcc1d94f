package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/daxls/internal/adapter"
	"github.com/dshills/daxls/internal/protocol"
)

func (s *Server) handleRequest(ctx context.Context, req *protocol.Request) {
	s.mu.Lock()
	initialized := s.initialized
	shuttingDown := s.shutdown
	s.mu.Unlock()

	if shuttingDown {
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, "server is shutting down"))
		return
	}
	if !initialized && req.Method != "initialize" {
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeServerNotInitialized, "server not initialized"))
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(ctx, req)
	case "shutdown":
		s.handleShutdown(ctx, req)
	case "textDocument/completion":
		s.handleCompletion(ctx, req)
	case "textDocument/signatureHelp":
		s.handleSignatureHelp(ctx, req)
	case "textDocument/hover":
		s.handleHover(ctx, req)
	case "textDocument/diagnostic":
		s.handleDiagnostic(ctx, req)
	case "workspace/executeCommand":
		s.handleExecuteCommand(ctx, req)
	default:
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}
}

// handleInitialize starts the engine before answering, so a client that
// cannot get an engine learns immediately instead of on the first query.
func (s *Server) handleInitialize(ctx context.Context, req *protocol.Request) {
	s.mu.Lock()
	already := s.initialized
	s.mu.Unlock()
	if already {
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, "server already initialized"))
		return
	}

	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "invalid initialize params"))
			return
		}
	}

	if err := s.bridge.Start(ctx); err != nil {
		s.log.Error("engine start failed", "error", err)
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, fmt.Sprintf("engine start failed: %v", err)))
		return
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if params.ClientInfo != nil {
		s.log.Info("client connected", "name", params.ClientInfo.Name, "version", params.ClientInfo.Version)
	}
	s.reply(protocol.NewResponse(req.ID, initializeResult(s.cfg.Version)))
}

// initializeResult advertises capabilities. Sync is full text because
// the engine consumes whole documents on every call.
func initializeResult(version string) protocol.InitializeResult {
	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.SyncFull,
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"[", "'", "(", ",", " "},
				ResolveProvider:   false,
			},
			HoverProvider: true,
			SignatureHelpProvider: &protocol.SignatureHelpOptions{
				TriggerCharacters: []string{"(", ","},
			},
			DiagnosticProvider: &protocol.DiagnosticOptions{
				Identifier:            "dax",
				InterFileDependencies: false,
				WorkspaceDiagnostics:  false,
			},
			ExecuteCommandProvider: &protocol.ExecuteCommandOptions{
				Commands: []string{"dax.updateModel"},
			},
		},
		ServerInfo: &protocol.ServerInfo{Name: "daxls", Version: version},
	}
}

func (s *Server) handleShutdown(ctx context.Context, req *protocol.Request) {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if err := s.bridge.Stop(ctx); err != nil {
		s.log.Warn("engine stop failed", "error", err)
	}
	s.reply(protocol.NewResponse(req.ID, nil))
}

// invokeEngine forwards one call to the engine and screens the reply
// for an engine reported error, which callers treat the same as a
// transport failure.
func (s *Server) invokeEngine(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := s.bridge.Invoke(ctx, method, params)
	s.cfg.Metrics.ObserveInvoke(method, time.Since(start), err)
	if err != nil {
		s.log.Warn("engine call failed", "method", method, "error", err)
		return nil, err
	}
	if msg, ok := adapter.EngineError(raw); ok {
		s.log.Warn("engine reported error", "method", method, "error", msg)
		return nil, fmt.Errorf("engine: %s", msg)
	}
	return raw, nil
}

func (s *Server) handleCompletion(ctx context.Context, req *protocol.Request) {
	list := adapter.EmptyCompletion()
	outcome := "degraded"
	defer func() {
		s.cfg.Metrics.ObserveRequest("textDocument/completion", outcome)
		s.reply(protocol.NewResponse(req.ID, list))
	}()

	var params protocol.CompletionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Warn("bad completion params", "error", err)
		return
	}
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		s.log.Warn("completion on unknown document", "uri", params.TextDocument.URI)
		return
	}
	engineParams, err := adapter.PositionContext(doc, params.Position)
	if err != nil {
		s.log.Warn("completion position invalid", "uri", doc.URI, "error", err)
		return
	}
	raw, err := s.invokeEngine(ctx, "completion", engineParams)
	if err != nil {
		return
	}
	list = adapter.Completion(raw)
	outcome = "ok"
}

func (s *Server) handleSignatureHelp(ctx context.Context, req *protocol.Request) {
	var help *protocol.SignatureHelp
	outcome := "degraded"
	defer func() {
		s.cfg.Metrics.ObserveRequest("textDocument/signatureHelp", outcome)
		s.reply(protocol.NewResponse(req.ID, help))
	}()

	var params protocol.SignatureHelpParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Warn("bad signatureHelp params", "error", err)
		return
	}
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		s.log.Warn("signatureHelp on unknown document", "uri", params.TextDocument.URI)
		return
	}
	engineParams, err := adapter.SignatureContext(doc, params.Position)
	if err != nil {
		s.log.Warn("signatureHelp position invalid", "uri", doc.URI, "error", err)
		return
	}
	raw, err := s.invokeEngine(ctx, "signatureHelp", engineParams)
	if err != nil {
		return
	}
	help = adapter.SignatureHelp(raw)
	outcome = "ok"
}

func (s *Server) handleHover(ctx context.Context, req *protocol.Request) {
	var hov *protocol.Hover
	outcome := "degraded"
	defer func() {
		s.cfg.Metrics.ObserveRequest("textDocument/hover", outcome)
		s.reply(protocol.NewResponse(req.ID, hov))
	}()

	var params protocol.HoverParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Warn("bad hover params", "error", err)
		return
	}
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		s.log.Warn("hover on unknown document", "uri", params.TextDocument.URI)
		return
	}
	engineParams, err := adapter.PositionContext(doc, params.Position)
	if err != nil {
		s.log.Warn("hover position invalid", "uri", doc.URI, "error", err)
		return
	}
	raw, err := s.invokeEngine(ctx, "hover", engineParams)
	if err != nil {
		return
	}
	hov = adapter.Hover(raw)
	outcome = "ok"
}

func (s *Server) handleDiagnostic(ctx context.Context, req *protocol.Request) {
	report := protocol.FullDocumentDiagnosticReport{
		Kind:  protocol.DiagnosticReportKindFull,
		Items: []protocol.Diagnostic{},
	}
	outcome := "degraded"
	defer func() {
		s.cfg.Metrics.ObserveRequest("textDocument/diagnostic", outcome)
		s.reply(protocol.NewResponse(req.ID, report))
	}()

	var params protocol.DocumentDiagnosticParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.log.Warn("bad diagnostic params", "error", err)
		return
	}
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		s.log.Warn("diagnostics on unknown document", "uri", params.TextDocument.URI)
		return
	}
	raw, err := s.invokeEngine(ctx, "diagnostics", adapter.DiagnosticsContext(doc))
	if err != nil {
		return
	}
	report.Items = adapter.Diagnostics(raw)
	outcome = "ok"
}

// handleExecuteCommand pushes a semantic model to the engine. The reply
// is always null; engine failures are logged and otherwise ignored so a
// bad model never surfaces as an editor error.
func (s *Server) handleExecuteCommand(ctx context.Context, req *protocol.Request) {
	var params protocol.ExecuteCommandParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, "invalid executeCommand params"))
		return
	}
	if params.Command != "dax.updateModel" {
		s.reply(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams, fmt.Sprintf("unknown command: %s", params.Command)))
		return
	}

	outcome := "ok"
	model := any(map[string]any{})
	if len(params.Arguments) > 0 {
		model = params.Arguments[0]
	}
	if _, err := s.invokeEngine(ctx, "setModel", model); err != nil {
		outcome = "degraded"
	}
	s.cfg.Metrics.ObserveRequest("workspace/executeCommand", outcome)
	s.reply(protocol.NewResponse(req.ID, nil))
}
