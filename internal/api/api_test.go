package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/patch"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

const (
	detectionMarker = "determine whether they introduce"
	yesNoMarker     = "Only respond with one word"
	selectionMarker = "comparing several patch candidates"
	punishMarker    = "You will be punished"
)

const fixedCode = "/* src/vuln.c */\nint main(void) { char b[8]; fgets(b, sizeof b, stdin); return 0; }"

var testFiles = []model.ChangedFile{{
	Filename: "src/vuln.c",
	Content:  "int main(void) { char b[8]; gets(b); return 0; }\n",
	Patch:    "--- a/src/vuln.c\n+++ b/src/vuln.c\n@@ -0,0 +1 @@\n+int main(void) { char b[8]; gets(b); return 0; }\n",
}}

func testClient() *llm.FakeClient {
	fenced := "```c\n" + fixedCode + "\n```"
	c := llm.NewFakeClient(
		llm.Rule{Match: yesNoMarker, Replies: []string{"yes"}},
		llm.Rule{Match: detectionMarker, Replies: []string{"File: src/vuln.c\nVulnerable: yes\nBug: gets() causes a buffer overflow"}},
		llm.Rule{Match: selectionMarker, Replies: []string{"Patch 3 is the safest.\n" + fenced}},
		llm.Rule{Match: punishMarker, Replies: []string{fenced}},
	)
	c.Fallback = "```c\n// no change\n```"
	return c
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	c := testClient()
	idx := retrieval.NewFlatIndex()
	if err := idx.Add(model.RetrievalRecord{Text: "use fgets", Type: model.RecordCVE}, llm.HashVector("use fgets", 8)); err != nil {
		t.Fatalf("index: %v", err)
	}
	return New(":0", Deps{
		Detector: detect.NewDetector(c, nil),
		Pipeline: &patch.Pipeline{
			Generator:  patch.NewGenerator(c, patch.NewRAGStrategy(c, idx, nil), nil),
			Selector:   patch.NewSelector(c, nil),
			Reconciler: patch.NewReconciler(nil, nil),
		},
	})
}

func postJSON(t *testing.T, srv *Server, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	// one reconcile miss so the patch collectors have a sample
	postJSON(t, srv, "/api/reconcile", reconcileRequest{
		Files:      testFiles,
		Candidates: model.CandidateSet{{Strategy: model.Basic, RawText: "nothing"}},
		Selection:  "Patch 1",
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "mistborn_patch_reconcile_misses_total") {
		t.Error("expected reconcile miss counter in metrics output")
	}
}

func TestDetectEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/api/detect", detectRequest{Repo: "demo", Files: testFiles})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp detectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if !resp.Vulnerable {
		t.Error("expected vulnerable verdict")
	}
	if resp.Report.Status != model.StatusCompleted {
		t.Errorf("expected completed status, got %q", resp.Report.Status)
	}
	if len(resp.Report.Bugs) != 1 || resp.Report.Bugs[0].VulnerabilityType != "buffer overflow" {
		t.Errorf("unexpected bugs: %+v", resp.Report.Bugs)
	}
	if len(resp.Hints) != 1 || resp.Hints[0].Risk != "critical" {
		t.Errorf("expected one critical hint, got %+v", resp.Hints)
	}
}

func TestDetectNoFiles(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/api/detect", detectRequest{})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp detectResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Report.Status != model.StatusNoCode {
		t.Errorf("expected no_code, got %q", resp.Report.Status)
	}
}

func TestPatchEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/api/patch", patchRequest{
		Files:  testFiles,
		Report: model.VulnerabilityReport{Analysis: "Vulnerable: yes"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp patchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if resp.Selection.ChosenLabel != "punish" {
		t.Errorf("expected punish, got %q", resp.Selection.ChosenLabel)
	}
	if resp.Miss || len(resp.Files) != 1 || resp.Files[0].Content != fixedCode {
		t.Errorf("expected src/vuln.c to be replaced, got %+v", resp.Files)
	}
	if len(resp.Candidates) != 5 {
		t.Errorf("expected 5 candidates, got %d", len(resp.Candidates))
	}
	if len(resp.Artifacts) != 1 || !strings.Contains(resp.Artifacts[0].Diff, "+++ b/src/vuln.c") {
		t.Errorf("expected one artifact with a diff, got %+v", resp.Artifacts)
	}
}

func TestPatchRequiresFiles(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/api/patch", patchRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPatchModelFailure(t *testing.T) {
	c := llm.NewFakeClient(llm.Rule{Match: punishMarker, Err: llm.ErrFake})
	idx := retrieval.NewFlatIndex()
	_ = idx.Add(model.RetrievalRecord{Text: "x"}, llm.HashVector("x", 8))
	srv := New(":0", Deps{Pipeline: &patch.Pipeline{
		Generator:  patch.NewGenerator(c, patch.NewRAGStrategy(c, idx, nil), nil),
		Selector:   patch.NewSelector(c, nil),
		Reconciler: patch.NewReconciler(nil, nil),
	}})

	w := postJSON(t, srv, "/api/patch", patchRequest{Files: testFiles})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUnconfiguredEndpoints(t *testing.T) {
	srv := New(":0", Deps{})
	for _, path := range []string{"/api/detect", "/api/patch"} {
		w := postJSON(t, srv, path, patchRequest{Files: testFiles})
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestReconcileEndpoint(t *testing.T) {
	srv := newTestServer(t)
	cands := model.CandidateSet{
		{Strategy: model.Basic, RawText: "b"},
		{Strategy: model.RewardFramed, RawText: "```c\n" + fixedCode + "\n```"},
	}
	w := postJSON(t, srv, "/api/reconcile", reconcileRequest{Files: testFiles, Candidates: cands, Selection: "Patch 2"})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec patch.Reconciliation
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if rec.Label != "reward" || rec.Miss {
		t.Errorf("expected reward hit, got %+v", rec)
	}
	if rec.Files[0].Content != fixedCode {
		t.Errorf("expected replaced content, got %q", rec.Files[0].Content)
	}
}

func TestReconcileMissingKey(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv, "/api/reconcile", reconcileRequest{
		Files:      testFiles,
		Candidates: model.CandidateSet{{Strategy: model.Basic, RawText: "b"}},
		Selection:  "Patch 5",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}

func TestReconcileBadJSON(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader("{"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, final string) []wsMessage {
	t.Helper()
	var msgs []wsMessage
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ws read: %v", err)
		}
		msgs = append(msgs, msg)
		if msg.Type == final || msg.Type == wsMsgError {
			return msgs
		}
	}
}

func TestWebSocketRun(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dialWS(t, ts)
	defer conn.Close()

	data, _ := json.Marshal(wsRun{Repo: "demo", Files: testFiles})
	if err := conn.WriteJSON(wsMessage{Type: wsMsgRun, Data: data}); err != nil {
		t.Fatalf("ws write run: %v", err)
	}

	msgs := readUntil(t, conn, wsMsgOutcome)
	var stages []string
	for _, m := range msgs {
		if m.Type != wsMsgStage {
			continue
		}
		var st wsStage
		if err := json.Unmarshal(m.Data, &st); err != nil {
			t.Fatalf("unmarshal stage: %v", err)
		}
		if st.RunID == "" {
			t.Error("expected run id on stage event")
		}
		stages = append(stages, st.Stage)
	}
	want := []string{stageDetecting, patch.StageGenerating, patch.StageSelecting, patch.StageReconciling, patch.StageDone}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", stages, want)
	}

	if msgs[1].Type != wsMsgReport {
		t.Errorf("expected report after detection, got %q", msgs[1].Type)
	}

	last := msgs[len(msgs)-1]
	if last.Type != wsMsgOutcome {
		t.Fatalf("expected outcome, got %q: %s", last.Type, last.Data)
	}
	var out wsOutcome
	if err := json.Unmarshal(last.Data, &out); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if out.Outcome == nil || out.Outcome.Selection.ChosenLabel != "punish" {
		t.Errorf("unexpected outcome: %+v", out.Outcome)
	}
	if len(out.Artifacts) != 1 {
		t.Errorf("expected one artifact, got %d", len(out.Artifacts))
	}
}

func TestWebSocketRunWithReport(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dialWS(t, ts)
	defer conn.Close()

	data, _ := json.Marshal(wsRun{Files: testFiles, Report: &model.VulnerabilityReport{Analysis: "Vulnerable: yes"}})
	conn.WriteJSON(wsMessage{Type: wsMsgRun, Data: data})

	msgs := readUntil(t, conn, wsMsgOutcome)
	for _, m := range msgs {
		if m.Type == wsMsgReport {
			t.Error("detection should be skipped when a report is supplied")
		}
	}
	if msgs[len(msgs)-1].Type != wsMsgOutcome {
		t.Errorf("expected outcome, got %q", msgs[len(msgs)-1].Type)
	}
}

func TestWebSocketErrors(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	conn := dialWS(t, ts)
	defer conn.Close()

	conn.WriteJSON(wsMessage{Type: "approve"})
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	if msg.Type != wsMsgError {
		t.Errorf("expected error for unknown type, got %q", msg.Type)
	}

	conn.WriteJSON(wsMessage{Type: wsMsgRun, Data: json.RawMessage(`{}`)})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var body map[string]string
	json.Unmarshal(msg.Data, &body)
	if msg.Type != wsMsgError || body["message"] != "files are required" {
		t.Errorf("expected files error, got %q %v", msg.Type, body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing patch", fmt.Errorf("%w: rag", patch.ErrNoPatchForKey), http.StatusUnprocessableEntity},
		{"empty index", fmt.Errorf("retrieval search: %w", retrieval.ErrIndexEmpty), http.StatusServiceUnavailable},
		{"model down", &llm.ServiceError{Op: "complete", Err: errors.New("503")}, http.StatusBadGateway},
		{"index down", fmt.Errorf("retrieval search: %w", &retrieval.BackendError{Op: "search", Err: errors.New("connection refused")}), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
