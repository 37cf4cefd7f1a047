package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebSocketHandler 将服务端暴露为 WebSocket 端点，每个连接一个会话
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"mcp"},
		})
		if err != nil {
			s.logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		t := NewAcceptedWebSocketTransport(conn, s.logger)
		defer t.Close()

		if err := s.Serve(r.Context(), t); err != nil {
			s.logger.Debug("websocket session ended", zap.Error(err))
		}
	})
}

// SSEHandler 将服务端暴露为 SSE 端点：GET 打开事件流并收到 endpoint 事件，
// 随后向 endpoint 指向的地址 POST JSON-RPC 消息，响应经事件流返回。
func (s *Server) SSEHandler() http.Handler {
	h := &sseHandler{server: s, sessions: make(map[string]chan []byte)}
	return h
}

type sseHandler struct {
	server *Server

	mu       sync.RWMutex
	sessions map[string]chan []byte
}

// ServeHTTP 实现 http.Handler
func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodPost:
		h.handleMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *sseHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.NewString()
	ch := make(chan []byte, 100)

	h.mu.Lock()
	h.sessions[sessionID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}()

	// 发送 endpoint 事件（告知客户端 POST 地址）
	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", r.URL.Path, sessionID)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (h *sseHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	h.mu.RLock()
	ch, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var msg MCPMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "parse error", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	// 请求上下文在返回 202 后结束，工具调用使用独立上下文
	go func() {
		resp := h.server.Dispatch(context.Background(), &msg)
		if resp == nil {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return
		}
		select {
		case ch <- data:
		default:
			h.server.logger.Warn("SSE session channel full", zap.String("session_id", sessionID))
		}
	}()
}
