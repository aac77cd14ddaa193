package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"
)

// ===== infra helpers =====

type MiddlewareFunc func(http.Handler) http.Handler

func chainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

func newAuthMiddleware(tokens []string) MiddlewareFunc {
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		tokenSet[token] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) != 0 {
				token := r.Header.Get("Authorization")
				token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
				if token == "" {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				if _, ok := tokenSet[token]; !ok {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func loggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("<%s> %s %s", prefix, r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func recoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("<%s> panic: %v", prefix, err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// limitListener caps concurrent agent connections.
type limitListener struct {
	net.Listener
	sem *semaphore.Weighted
}

func newLimitListener(l net.Listener, max int) net.Listener {
	return &limitListener{Listener: l, sem: semaphore.NewWeighted(int64(max))}
}

func (l *limitListener) Accept() (net.Conn, error) {
	if err := l.sem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	conn, err := l.Listener.Accept()
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return &limitConn{Conn: conn, release: sync.OnceFunc(func() { l.sem.Release(1) })}, nil
}

type limitConn struct {
	net.Conn
	release func()
}

func (c *limitConn) Close() error {
	defer c.release()
	return c.Conn.Close()
}

// ===== proxy server =====

const (
	serverStopped int32 = iota
	serverStarting
	serverListening
	serverStopping
)

const shutdownGrace = 5 * time.Second

// ProxyServer binds the agent-facing endpoint and dispatches one request
// per exchange across the catalog, router and security gate.
type ProxyServer struct {
	conf    *ProxyConfig
	catalog Catalog
	router  Router
	gate    SecurityGate

	state    atomic.Int32
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewProxyServer(conf *ProxyConfig, catalog Catalog, router Router, gate SecurityGate) *ProxyServer {
	return &ProxyServer{
		conf:    conf,
		catalog: catalog,
		router:  router,
		gate:    gate,
	}
}

// Start binds the configured address and begins serving. A bind failure is
// the one fatal condition in this subsystem; everything after it degrades
// to per-call errors.
func (s *ProxyServer) Start() error {
	if !s.state.CompareAndSwap(serverStopped, serverStarting) {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.conf.addr())
	if err != nil {
		s.state.Store(serverStopped)
		return fmt.Errorf("bind %s: %w", s.conf.addr(), err)
	}
	if s.conf.MaxConnections > 0 {
		listener = newLimitListener(listener, s.conf.MaxConnections)
	}
	s.listener = listener

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.httpSrv = &http.Server{
		Handler: s.handler(),
		BaseContext: func(net.Listener) context.Context {
			return s.baseCtx
		},
	}

	s.state.Store(serverListening)
	log.Printf("<%s> listening on %s", s.conf.Name, listener.Addr())

	go func() {
		defer close(s.done)
		if serveErr := s.httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Printf("<%s> serve: %v", s.conf.Name, serveErr)
		}
	}()
	return nil
}

// Stop drains with a bounded grace period: the base context is cancelled so
// in-flight handlers observing it stop promptly, then the listener shuts
// down with a timeout. This is deliberately a drain, not an abort.
func (s *ProxyServer) Stop() error {
	if !s.state.CompareAndSwap(serverListening, serverStopping) {
		return nil
	}
	defer s.state.Store(serverStopped)

	s.cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	err := s.httpSrv.Shutdown(shutdownCtx)
	<-s.done
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr reports the bound address, for tests and logs.
func (s *ProxyServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *ProxyServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleExchange)

	mws := []MiddlewareFunc{recoverMiddleware(s.conf.Name)}
	if s.conf.Options.LogEnabled.OrElse(false) {
		mws = append(mws, loggerMiddleware(s.conf.Name))
	}
	if len(s.conf.Options.AuthTokens) > 0 {
		mws = append(mws, newAuthMiddleware(s.conf.Options.AuthTokens))
	}
	return chainMiddleware(mux, mws...)
}

func (s *ProxyServer) handleExchange(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("mcp-session-id", uuid.New().String())
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		s.handleSessionStream(w, r)

	case http.MethodPost:
		s.handleSubmit(w, r)

	case http.MethodOptions:
		w.Header().Set("Allow", "GET, HEAD, POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, HEAD, POST, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionStream opens a keep-alive event stream and tells the agent
// where to POST its exchanges.
func (s *ProxyServer) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	w.Header().Set("mcp-session-id", sessionID)
	sessionHex := strings.ReplaceAll(sessionID, "-", "")
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp?session_id=%s\n\n", sessionHex)
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, ":\n\n")
			flusher.Flush()
		}
	}
}

func (s *ProxyServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	// batches are a non-goal; refuse each entry politely
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var batch []jsonrpcRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			writeProtocolError(w, http.StatusBadRequest, rpcError(nil, codeParseError, "Parse error"))
			return
		}
		out := make([]jsonrpcResponse, 0, len(batch))
		for _, req := range batch {
			out = append(out, rpcError(req.ID, codeMethodNotFound, "Batch requests are not supported"))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	msg, err := decodeMessage(body)
	if err != nil {
		writeProtocolError(w, http.StatusBadRequest, rpcError(nil, codeParseError, "Parse error"))
		return
	}
	if msg.Notification != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if msg.Request == nil {
		// parseable, but not a request
		writeProtocolError(w, http.StatusBadRequest, rpcError(nil, codeParseError, "Expected a single request"))
		return
	}

	resp := s.dispatch(r, msg.Request)
	writeJSON(w, http.StatusOK, resp)
}

func (s *ProxyServer) dispatch(r *http.Request, req *jsonrpcRequest) jsonrpcResponse {
	ctx := r.Context()
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, s.initializeResult())

	case "ping":
		return rpcOK(req.ID, map[string]any{})

	case "tools/list":
		descriptors, err := s.catalog.AllTools(ctx)
		if err != nil {
			log.Printf("<%s> tools/list: %v", s.conf.Name, err)
			return rpcError(req.ID, codeInternalError, "Failed to build tool catalog")
		}
		tools := make([]map[string]any, 0, len(descriptors))
		for _, descriptor := range descriptors {
			tools = append(tools, descriptorForWire(descriptor))
		}
		return rpcOK(req.ID, map[string]any{"tools": tools})

	case "tools/call":
		return s.dispatchToolCall(r, req)

	case "prompts/list":
		// reserved for future aggregation
		return rpcOK(req.ID, map[string]any{"prompts": []any{}})

	case "prompts/get":
		return rpcError(req.ID, codeMethodNotFound, "Method not implemented: prompts/get")

	default:
		return rpcError(req.ID, codeMethodNotFound, "Method not found")
	}
}

func (s *ProxyServer) dispatchToolCall(r *http.Request, req *jsonrpcRequest) jsonrpcResponse {
	ctx := r.Context()
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, codeInvalidParams, "Invalid params")
		}
	}
	if params.Name == "" {
		return rpcError(req.ID, codeInvalidParams, "Missing tool name")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	agentID := agentIdentity(r)

	if err := s.gate.CheckRequest(ctx, params.Name, params.Arguments, agentID); err != nil {
		log.Printf("<%s> tools/call %s denied for %s: %v", s.conf.Name, params.Name, agentID, err)
		return rpcError(req.ID, codeSecurityDenied, err.Error())
	}

	result, err := s.router.RouteToolCall(ctx, params.Name, params.Arguments)
	if err != nil {
		log.Printf("<%s> tools/call %s: %v", s.conf.Name, params.Name, err)
		return rpcError(req.ID, codeInternalError, err.Error())
	}

	if err := s.gate.CheckResponse(ctx, params.Name, result, agentID); err != nil {
		// best-effort audit; the call already succeeded
		log.Printf("<%s> response check %s for %s: %v", s.conf.Name, params.Name, agentID, err)
	}

	return rpcOK(req.ID, callResultPayload(result))
}

func (s *ProxyServer) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities": map[string]any{
			"tools":   map[string]any{"listChanged": false},
			"prompts": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    s.conf.Name,
			"version": s.conf.Version,
		},
	}
}

// agentIdentity picks the caller identity handed to the security gate: an
// explicit header, else the session id, else the peer address.
func agentIdentity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Agent-ID")); id != "" {
		return id
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProtocolError(w http.ResponseWriter, status int, resp jsonrpcResponse) {
	writeJSON(w, status, resp)
}
