package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/connexus-ai/ragqa-core/internal/answerengine"
	"github.com/connexus-ai/ragqa-core/internal/middleware"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// fakeAnswerer implements Answerer for testing.
type fakeAnswerer struct {
	answer       *model.Answer
	err          error
	stagesCalled []answerengine.Stage
}

func (f *fakeAnswerer) Answer(ctx context.Context, req answerengine.Request) (*model.Answer, error) {
	return f.answer, f.err
}

func (f *fakeAnswerer) AnswerWithProgress(ctx context.Context, req answerengine.Request, onProgress answerengine.ProgressFunc) (*model.Answer, error) {
	if onProgress != nil {
		onProgress(answerengine.StageReceived)
		onProgress(answerengine.StageCompleted)
	}
	return f.answer, f.err
}

func chatHTTPRequest(question string) *http.Request {
	body, _ := json.Marshal(chatRequest{Question: question})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	ctx := middleware.WithUserID(req.Context(), "test-user")
	return req.WithContext(ctx)
}

type sseEvent struct {
	Event string
	Data  string
}

func parseSSEEvents(body string) []sseEvent {
	var events []sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	var currentEvent, currentData string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			currentData = strings.TrimPrefix(line, "data: ")
		case line == "" && currentEvent != "":
			events = append(events, sseEvent{Event: currentEvent, Data: currentData})
			currentEvent, currentData = "", ""
		}
	}
	return events
}

func TestChat_SuccessStream(t *testing.T) {
	engine := &fakeAnswerer{answer: &model.Answer{
		Text:       "the contract expires in March 2025",
		Confidence: 0.9,
		Origin:     model.OriginLocal,
		Sources:    []model.Source{{DocumentID: "d1", Ordinal: 0, Snippet: "expires March 2025", Score: 0.95}},
	}}
	handler := Chat(ChatDeps{Engine: engine})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatHTTPRequest("When does the contract expire?"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) == 0 {
		t.Fatal("expected SSE events")
	}
	if events[0].Event != "stage" {
		t.Errorf("first event = %q, want stage", events[0].Event)
	}
	last := events[len(events)-1]
	if last.Event != "done" {
		t.Errorf("last event = %q, want done", last.Event)
	}

	var resp chatResponse
	if err := json.Unmarshal([]byte(last.Data), &resp); err != nil {
		t.Fatalf("unmarshal done payload: %v", err)
	}
	if resp.Answer != "the contract expires in March 2025" {
		t.Errorf("Answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("Sources len = %d, want 1", len(resp.Sources))
	}
}

func TestChat_Unauthorized(t *testing.T) {
	handler := Chat(ChatDeps{})

	body, _ := json.Marshal(chatRequest{Question: "test"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestChat_EmptyQuestion(t *testing.T) {
	handler := Chat(ChatDeps{})

	body, _ := json.Marshal(chatRequest{Question: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), "test-user"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChat_EngineError(t *testing.T) {
	engine := &fakeAnswerer{err: errors.New("retrieval failed")}
	handler := Chat(ChatDeps{Engine: engine})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatHTTPRequest("test"))

	events := parseSSEEvents(w.Body.String())
	hasError := false
	for _, e := range events {
		if e.Event == "error" {
			hasError = true
		}
	}
	if !hasError {
		t.Error("expected error event when the engine fails")
	}
}

func TestChat_SSEEventFormat(t *testing.T) {
	engine := &fakeAnswerer{answer: &model.Answer{Text: "an answer"}}
	handler := Chat(ChatDeps{Engine: engine})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, chatHTTPRequest("test query"))

	body := w.Body.String()
	if !strings.Contains(body, "event: ") {
		t.Error("response should contain SSE event: prefix")
	}
	if !strings.Contains(body, "data: ") {
		t.Error("response should contain SSE data: prefix")
	}
	if !strings.Contains(body, "\n\n") {
		t.Error("SSE events should be separated by double newlines")
	}
}
