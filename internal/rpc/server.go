// Package rpc provides the operator JSON-RPC 2.0 server and a websocket
// feed of swap engine events.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// OrderIndex maps engine orders to the users who submitted them.
type OrderIndex interface {
	Lookup(orderID string) (string, bool)
	Orders() []string
	Len() int
}

// OrderStore reads recorded orders and account counts.
type OrderStore interface {
	GetOrder(ctx context.Context, createID string) (*storage.Order, error)
	CountUsers(ctx context.Context) (int, error)
}

// ServerConfig holds the server's collaborators.
type ServerConfig struct {
	Orders OrderIndex
	// Store is optional; without it order details are limited to the owner.
	Store OrderStore
	// Network is reported by status.
	Network string
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	orders  OrderIndex
	store   OrderStore
	network string
	started time.Time
	log     *logging.Logger
	wsHub   *WSHub

	server   *http.Server
	listener net.Listener

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer creates a new JSON-RPC server. The websocket hub runs from
// creation so events can be published before Start.
func NewServer(cfg *ServerConfig) *Server {
	s := &Server{
		orders:   cfg.Orders,
		store:    cfg.Store,
		network:  cfg.Network,
		started:  time.Now(),
		log:      logging.GetDefault().Component("rpc"),
		wsHub:    NewWSHub(),
		handlers: make(map[string]Handler),
	}
	go s.wsHub.Run()

	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["status"] = s.status
	s.handlers["orders_owner"] = s.ordersOwner
	s.handlers["orders_list"] = s.ordersList
}

// Handler returns the HTTP handler serving JSON-RPC and the websocket feed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the RPC server and the websocket hub.
func (s *Server) Stop() error {
	s.wsHub.Stop()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// HandleEvent publishes an engine event to websocket subscribers. Poll
// log events are not published.
func (s *Server) HandleEvent(evt engine.Event) {
	if evt.Type == engine.EventLog {
		return
	}

	payload := EventPayload{
		OrderID: evt.OrderID,
		Action:  evt.Action,
		TxHash:  evt.TxHash,
		Message: evt.Message,
	}
	if evt.Err != nil {
		payload.Error = evt.Err.Error()
	}
	if userID, ok := s.orders.Lookup(evt.OrderID); ok {
		payload.UserID = userID
	}
	s.wsHub.Broadcast(EventType(evt.Type), payload.UserID, payload)
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		code := InternalError
		if pe, ok := err.(*paramsError); ok {
			code = InvalidParams
			err = pe.err
		}
		s.writeError(w, req.ID, code, err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}
