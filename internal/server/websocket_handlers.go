package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/stereowls/internal/depthio"
	"github.com/MeKo-Tech/stereowls/internal/errs"
	"github.com/MeKo-Tech/stereowls/internal/imgbuf"
	"github.com/MeKo-Tech/stereowls/internal/pipeline"
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WebSocketDepthRequest is a depth request sent over WebSocket. Image
// fields hold encoded image files, base64 in JSON.
type WebSocketDepthRequest struct {
	Type      string         `json:"type"` // "stereo" or "filter"
	RequestID string         `json:"request_id,omitempty"`
	Left      []byte         `json:"left,omitempty"`
	Right     []byte         `json:"right,omitempty"`
	Guide     []byte         `json:"guide,omitempty"`
	Depth     []byte         `json:"depth,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketDepthResponse reports progress or the outcome of a request.
type WebSocketDepthResponse struct {
	Type      string       `json:"type"`
	Status    string       `json:"status"` // "processing", "completed", "error"
	Stage     string       `json:"stage,omitempty"`
	Progress  float64      `json:"progress"`
	Result    *DepthResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorType string       `json:"error_type,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// depthWebSocketHandler handles WebSocket connections for streamed depth
// requests.
func (s *Server) depthWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	defer s.metrics.websocketOpened()()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn)
}

// wsReadLimit is the largest accepted message: the upload limit grown by the
// base64 expansion of 4/3 plus room for the JSON envelope.
func (s *Server) wsReadLimit() int64 {
	return s.maxUploadMB*1024*1024*4/3 + 64*1024
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn) {
	conn.SetReadLimit(s.wsReadLimit())
	// Set read deadline to prevent hanging connections
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		s.metrics.websocketMessage("received")

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(conn, data)
			// Processing may outlast the read deadline.
			_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		}
	}
}

// handleWebSocketMessage processes one request and replies on conn.
func (s *Server) handleWebSocketMessage(conn WebSocketConnWriter, data []byte) {
	var req WebSocketDepthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	rc, err := parseRequestConfig(optionValues(req.Options))
	if err != nil {
		s.sendWebSocketError(conn, requestID, "invalid_request", err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketDepthResponse{
		Type:      "depth_response",
		Status:    "processing",
		RequestID: requestID,
	})

	kind := "websocket_" + req.Type
	var result *DepthResult
	switch req.Type {
	case "stereo":
		result, err = s.processWebSocketStereo(conn, req, rc, requestID)
	case "filter":
		result, err = s.processWebSocketFilter(conn, req, rc, requestID)
	default:
		s.sendWebSocketError(conn, requestID, "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	s.metrics.depthRequest(kind, err)
	if err != nil {
		errorType := "processing_error"
		if statusForError(err) < http.StatusInternalServerError {
			errorType = "invalid_request"
		}
		s.sendWebSocketError(conn, requestID, errorType, err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketDepthResponse{
		Type:      "depth_response",
		Status:    "completed",
		Progress:  1.0,
		Result:    result,
		RequestID: requestID,
	})
}

func (s *Server) processWebSocketStereo(conn WebSocketConnWriter, req WebSocketDepthRequest, rc *RequestConfig,
	requestID string,
) (*DepthResult, error) {
	left, err := decodeField("left", req.Left, imgbuf.ReadColor)
	if err != nil {
		return nil, err
	}
	right, err := decodeField("right", req.Right, imgbuf.ReadColor)
	if err != nil {
		return nil, err
	}

	cfg, err := rc.apply(s.pipelineCfg)
	if err != nil {
		return nil, err
	}
	stages := 2 // match, filter
	switch cfg.Filter {
	case pipeline.FilterWLSConf:
		stages = 3
	case pipeline.FilterNone:
		stages = 1
	}
	obs := s.newProgressObserver(conn, requestID, stages)
	return s.runStereo(context.Background(), left, right, rc, obs)
}

func (s *Server) processWebSocketFilter(conn WebSocketConnWriter, req WebSocketDepthRequest, rc *RequestConfig,
	requestID string,
) (*DepthResult, error) {
	depth, err := decodeField("depth", req.Depth, imgbuf.ReadUnchanged)
	if err != nil {
		return nil, err
	}
	var guide *imgbuf.Mat
	stages := 2 // median, filter
	if len(req.Guide) > 0 {
		if guide, err = decodeField("guide", req.Guide, imgbuf.ReadColor); err != nil {
			return nil, err
		}
		stages = 1
	}
	obs := s.newProgressObserver(conn, requestID, stages)
	return s.runFilter(context.Background(), guide, depth, rc, obs)
}

func decodeField(field string, data []byte, mode imgbuf.ReadMode) (*imgbuf.Mat, error) {
	if len(data) == 0 {
		return nil, errs.Parameter(field, "missing", "an encoded image is required")
	}
	m, _, err := depthio.Decode(bytes.NewReader(data), mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return m, nil
}

// progressObserver streams stage transitions of one request.
type progressObserver struct {
	s         *Server
	conn      WebSocketConnWriter
	requestID string
	total     int

	mu       sync.Mutex
	finished int
}

func (s *Server) newProgressObserver(conn WebSocketConnWriter, requestID string, total int) *progressObserver {
	return &progressObserver{s: s, conn: conn, requestID: requestID, total: max(total, 1)}
}

func (o *progressObserver) StageStarted(st pipeline.Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.send(st)
}

func (o *progressObserver) StageFinished(st pipeline.Stage, _ time.Duration, err error) {
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func (o *progressObserver) send(st pipeline.Stage) {
	o.s.sendWebSocketResponse(o.conn, WebSocketDepthResponse{
		Type:      "depth_response",
		Status:    "processing",
		Stage:     string(st),
		Progress:  min(float64(o.finished)/float64(o.total), 0.99),
		RequestID: o.requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketDepthResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}

	s.metrics.websocketMessage("sent")
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketDepthResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
