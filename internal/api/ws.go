package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 64,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev; restrict in production
	},
}

// WebSocket message types from client.
const (
	wsMsgRun = "run"
)

// WebSocket message types to client.
const (
	wsMsgStage   = "stage"
	wsMsgReport  = "report"
	wsMsgOutcome = "outcome"
	wsMsgError   = "error"
)

// stageDetecting is reported before detection when a run carries no report.
const stageDetecting = "detecting"

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsRun is the payload for "run" messages. Without a report the files are
// run through detection first, and a clean verdict ends the run there.
type wsRun struct {
	Repo   string                     `json:"repo,omitempty"`
	Files  []model.ChangedFile        `json:"files"`
	Report *model.VulnerabilityReport `json:"report,omitempty"`
}

// wsStage mirrors a pipeline event.
type wsStage struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// wsOutcome is sent when a run finishes.
type wsOutcome struct {
	RunID     string            `json:"run_id"`
	Outcome   *patch.Outcome    `json:"outcome"`
	Artifacts []*patch.Artifact `json:"artifacts,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read", zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendWSError(conn, "invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgRun:
			s.handleWSRun(r.Context(), conn, msg.Data)
		default:
			s.sendWSError(conn, "unknown message type: "+msg.Type)
		}
	}
}

// handleWSRun runs one pipeline on the connection's goroutine, so stage
// events and the outcome are written in order by a single writer.
func (s *Server) handleWSRun(ctx context.Context, conn *websocket.Conn, data json.RawMessage) {
	var req wsRun
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWSError(conn, "invalid run data")
		return
	}
	if len(req.Files) == 0 {
		s.sendWSError(conn, "files are required")
		return
	}
	if s.deps.Pipeline == nil {
		s.sendWSError(conn, "patch generation is not configured")
		return
	}

	runID := uuid.NewString()
	log := s.log.With(zap.String("run_id", runID))

	report := req.Report
	if report == nil {
		if s.deps.Detector == nil {
			s.sendWSError(conn, "a report is required when detection is not configured")
			return
		}
		s.sendWSMessage(conn, wsMsgStage, wsStage{RunID: runID, Stage: stageDetecting})
		found, err := s.deps.Detector.Detect(ctx, req.Repo, req.Files)
		if err != nil {
			log.Warn("detection failed", zap.Error(err))
			s.sendWSError(conn, err.Error())
			return
		}
		s.sendWSMessage(conn, wsMsgReport, found)
		if !detect.IsVulnerable(found) {
			s.sendWSMessage(conn, wsMsgOutcome, wsOutcome{RunID: runID})
			return
		}
		report = found
	}

	p := *s.deps.Pipeline
	p.Observer = func(e patch.Event) {
		s.sendWSMessage(conn, wsMsgStage, wsStage{
			RunID:     runID,
			Stage:     e.Stage,
			Detail:    e.Detail,
			ElapsedMS: e.Elapsed.Milliseconds(),
		})
	}
	out, err := p.Run(ctx, req.Files, *report)
	if err != nil {
		log.Warn("pipeline failed", zap.Error(err))
		s.sendWSError(conn, err.Error())
		return
	}
	arts, err := patch.Artifacts(req.Files, out)
	if err != nil {
		s.sendWSError(conn, err.Error())
		return
	}
	log.Info("run finished", zap.String("strategy", out.Selection.ChosenLabel), zap.Bool("miss", out.Miss))
	s.sendWSMessage(conn, wsMsgOutcome, wsOutcome{RunID: runID, Outcome: out, Artifacts: arts})
}

func (s *Server) sendWSMessage(conn *websocket.Conn, msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Warn("ws marshal", zap.Error(err))
		return
	}
	msg := wsMessage{Type: msgType, Data: raw}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("ws write", zap.Error(err))
	}
}

func (s *Server) sendWSError(conn *websocket.Conn, errMsg string) {
	s.sendWSMessage(conn, wsMsgError, map[string]string{"message": errMsg})
}
