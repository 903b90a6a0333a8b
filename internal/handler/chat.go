package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/connexus-ai/ragqa-core/internal/answerengine"
	"github.com/connexus-ai/ragqa-core/internal/middleware"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// Answerer is the subset of *answerengine.Engine this handler needs, kept
// narrow so it can be faked in tests.
type Answerer interface {
	Answer(ctx context.Context, req answerengine.Request) (*model.Answer, error)
	AnswerWithProgress(ctx context.Context, req answerengine.Request, onProgress answerengine.ProgressFunc) (*model.Answer, error)
}

// ChatDeps bundles the Answer Engine for the chat handler.
type ChatDeps struct {
	Engine Answerer
}

// chatRequest is the wire shape of POST /api/chat's body.
type chatRequest struct {
	Question              string   `json:"question"`
	ResponseFormat        string   `json:"responseFormat"`
	MaxSources            int      `json:"maxSources"`
	NCandidates           int      `json:"nCandidates"`
	AllowExternalFallback *bool    `json:"allowExternalFallback"`
	ConfidenceFloor       *float64 `json:"confidenceFloor"`
}

// chatSource mirrors model.Source over the wire.
type chatSource struct {
	DocumentID string  `json:"documentId"`
	Ordinal    int     `json:"ordinal"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// chatResponse is the wire shape of a completed answer.
type chatResponse struct {
	Answer     string               `json:"answer"`
	Confidence float64              `json:"confidence"`
	Origin     string               `json:"origin"`
	Sources    []chatSource         `json:"sources"`
	Metadata   model.AnswerMetadata `json:"metadata"`
}

// Chat handles POST /api/chat: a single question against the caller's
// document set. Progress is streamed as SSE "stage" events (generalized
// from the donor's per-stage SSE emission into answerengine.ProgressFunc),
// followed by a terminal "done" or "error" event.
func Chat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := middleware.UserIDFromContext(r.Context())
		if ownerID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var body chatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if body.Question == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "question is required"})
			return
		}

		req := answerengine.Request{
			Question: body.Question,
			OwnerID:  ownerID,
			Options: answerengine.Options{
				ResponseFormat:        body.ResponseFormat,
				MaxSources:            body.MaxSources,
				NCandidates:           body.NCandidates,
				AllowExternalFallback: body.AllowExternalFallback,
				ConfidenceFloor:       body.ConfidenceFloor,
			},
		}

		flusher, streaming := w.(http.Flusher)
		if !streaming {
			answer, err := deps.Engine.Answer(r.Context(), req)
			if err != nil {
				respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
				return
			}
			respondJSON(w, http.StatusOK, envelope{Success: true, Data: toChatResponse(answer)})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		onProgress := func(stage answerengine.Stage) {
			sendEvent(w, flusher, "stage", fmt.Sprintf(`{"stage":%q}`, stage))
		}

		answer, err := deps.Engine.AnswerWithProgress(r.Context(), req, onProgress)
		if err != nil {
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			sendEvent(w, flusher, "error", string(data))
			return
		}

		data, _ := json.Marshal(toChatResponse(answer))
		sendEvent(w, flusher, "done", string(data))
	}
}

func toChatResponse(a *model.Answer) chatResponse {
	sources := make([]chatSource, len(a.Sources))
	for i, s := range a.Sources {
		sources[i] = chatSource{DocumentID: s.DocumentID, Ordinal: s.Ordinal, Snippet: s.Snippet, Score: s.Score}
	}
	return chatResponse{
		Answer:     a.Text,
		Confidence: a.Confidence,
		Origin:     string(a.Origin),
		Sources:    sources,
		Metadata:   a.Metadata,
	}
}

func sendEvent(w http.ResponseWriter, f http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	f.Flush()
}
