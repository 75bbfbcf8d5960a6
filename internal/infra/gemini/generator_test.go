package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quiz-attempt-service/internal/domain"
)

const fencedPayload = "```json\n" + `{
  "title": "Solar system",
  "description": "Planets and moons",
  "questions": [
    {"question_text": "Largest planet?", "options": ["Earth", "Jupiter", "Mars", "Venus"], "correct_answer": 1}
  ]
}` + "\n```"

func fakeServer(t *testing.T, status int, text string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key not passed, query: %s", r.URL.RawQuery)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 1 {
			t.Errorf("unexpected request shape: %+v", req)
		}

		w.WriteHeader(status)
		body := map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGenerateParsesFencedJSON(t *testing.T) {
	server := fakeServer(t, http.StatusOK, fencedPayload)
	client := NewClientWithBaseURL("test-key", "", server.URL)

	quiz, err := client.Generate(context.Background(), "space", 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if quiz.Title != "Solar system" || len(quiz.Questions) != 1 {
		t.Fatalf("unexpected quiz: %+v", quiz)
	}
	q := quiz.Questions[0]
	if q.CorrectIndex != 1 || len(q.Options) != 4 {
		t.Fatalf("unexpected question: %+v", q)
	}
}

func TestGeneratePropagatesHTTPError(t *testing.T) {
	server := fakeServer(t, http.StatusTooManyRequests, "")
	client := NewClientWithBaseURL("test-key", "", server.URL)

	_, err := client.Generate(context.Background(), "space", 1)
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("expected Internal error, got %v", err)
	}
}

func TestGenerateRejectsBadSkeleton(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"not json", "sorry, I cannot help with that"},
		{"missing title", `{"questions": [{"question_text": "x", "options": ["a", "b"], "correct_answer": 0}]}`},
		{"no questions", `{"title": "t", "questions": []}`},
		{"single option", `{"title": "t", "questions": [{"question_text": "x", "options": ["a"], "correct_answer": 0}]}`},
		{"index out of range", `{"title": "t", "questions": [{"question_text": "x", "options": ["a", "b"], "correct_answer": 5}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := fakeServer(t, http.StatusOK, tc.text)
			client := NewClientWithBaseURL("test-key", "", server.URL)
			if _, err := client.Generate(context.Background(), "space", 1); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseQuizJSONWithoutFences(t *testing.T) {
	quiz, err := parseQuizJSON(`{"title": "t", "questions": [{"question_text": "x", "options": ["a", "b"], "correct_answer": 0}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if quiz.Title != "t" {
		t.Fatalf("unexpected quiz: %+v", quiz)
	}
}
