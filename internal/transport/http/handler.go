package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the core services as a JSON API. Authentication is an
// external collaborator: the principal arrives in X-User-ID / X-User-Role
// headers and is trusted as-is.
type Handler struct {
	content     *app.ContentService
	attempts    *app.AttemptService
	answers     *app.AnswerService
	leaderboard *app.LeaderboardService
}

func NewHandler(content *app.ContentService, attempts *app.AttemptService, answers *app.AnswerService, leaderboard *app.LeaderboardService) *Handler {
	return &Handler{content: content, attempts: attempts, answers: answers, leaderboard: leaderboard}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/quizzes", h.createQuiz)
	mux.HandleFunc("GET /api/v1/quizzes", h.listQuizzes)
	mux.HandleFunc("POST /api/v1/quizzes/generate", h.generateQuiz)
	mux.HandleFunc("GET /api/v1/quizzes/{id}", h.getQuiz)
	mux.HandleFunc("PATCH /api/v1/quizzes/{id}", h.updateQuiz)
	mux.HandleFunc("DELETE /api/v1/quizzes/{id}", h.deleteQuiz)
	mux.HandleFunc("POST /api/v1/quizzes/{id}/questions", h.addQuestion)
	mux.HandleFunc("PATCH /api/v1/questions/{id}", h.updateQuestion)
	mux.HandleFunc("DELETE /api/v1/questions/{id}", h.deleteQuestion)
	mux.HandleFunc("POST /api/v1/quizzes/{id}/start", h.startAttempt)
	mux.HandleFunc("GET /api/v1/quizzes/{id}/attempts", h.listUserAttempts)
	mux.HandleFunc("GET /api/v1/quizzes/{id}/leaderboard", h.getLeaderboard)
	mux.HandleFunc("GET /api/v1/attempts/{id}", h.getAttempt)
	mux.HandleFunc("POST /api/v1/attempts/{id}/answers", h.submitAnswers)
	mux.HandleFunc("POST /api/v1/attempts/{id}/submit", h.finishAttempt)
	mux.HandleFunc("GET /api/v1/tags", h.listTags)
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var in app.QuizInput
	if !decodeBody(w, r, &in) {
		return
	}
	quiz, err := h.content.CreateQuiz(r.Context(), principal, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r)
	var (
		quizzes []domain.Quiz
		err     error
	)
	if tag := r.URL.Query().Get("tag"); tag != "" {
		quizzes, err = h.content.SearchQuizzesByTag(r.Context(), tag, skip, limit)
	} else if creator := r.URL.Query().Get("creator"); creator != "" {
		var creatorID int64
		creatorID, err = strconv.ParseInt(creator, 10, 64)
		if err != nil {
			writeError(w, domain.E(domain.KindInvalidInput, "invalid creator id %q", creator))
			return
		}
		quizzes, err = h.content.ListQuizzesByCreator(r.Context(), creatorID, skip, limit)
	} else {
		quizzes, err = h.content.ListPublicQuizzes(r.Context(), skip, limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizzes)
}

type generateRequest struct {
	Prompt       string   `json:"prompt"`
	NumQuestions int      `json:"numQuestions"`
	Tags         []string `json:"tags"`
}

func (h *Handler) generateQuiz(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	var in generateRequest
	if !decodeBody(w, r, &in) {
		return
	}
	quiz, err := h.content.GenerateQuiz(r.Context(), principal, in.Prompt, in.NumQuestions, in.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) getQuiz(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	quiz, err := h.content.GetQuiz(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

type quizPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"isPublic"`
}

func (h *Handler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in quizPatch
	if !decodeBody(w, r, &in) {
		return
	}
	quiz, err := h.content.UpdateQuiz(r.Context(), principal, id, in.Title, in.Description, in.IsPublic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.content.DeleteQuiz(r.Context(), principal, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addQuestion(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in app.QuestionInput
	if !decodeBody(w, r, &in) {
		return
	}
	question, err := h.content.AddQuestion(r.Context(), principal, id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

type questionPatch struct {
	Text   *string              `json:"text"`
	Type   *domain.QuestionType `json:"type"`
	Points *int                 `json:"points"`
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in questionPatch
	if !decodeBody(w, r, &in) {
		return
	}
	question, err := h.content.UpdateQuestion(r.Context(), principal, id, in.Text, in.Type, in.Points)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.content.DeleteQuestion(r.Context(), principal, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	attempt, err := h.attempts.StartAttempt(r.Context(), id, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (h *Handler) listUserAttempts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	attempts, err := h.attempts.ListUserAttempts(r.Context(), id, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	lb, err := h.leaderboard.GetLeaderboard(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	attempt, err := h.attempts.GetAttempt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (h *Handler) submitAnswers(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in []domain.AnswerSubmission
	if !decodeBody(w, r, &in) {
		return
	}
	answers, err := h.answers.SubmitAnswers(r.Context(), id, principal, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, answers)
}

func (h *Handler) finishAttempt(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.attempts.FinishAttempt(r.Context(), id, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.content.ListTags(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func principalFrom(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
		return domain.Principal{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid X-User-ID header", http.StatusUnauthorized)
		return domain.Principal{}, false
	}
	role := domain.Role(r.Header.Get("X-User-Role"))
	if role == "" {
		role = domain.RoleStudent
	}
	return domain.Principal{ID: id, Role: role}, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, domain.E(domain.KindInvalidInput, "invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (skip, limit int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return skip, limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.E(domain.KindInvalidInput, "invalid request body"))
		return false
	}
	return true
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// writeError maps the typed taxonomy onto transport status codes. Internal
// details stay in the server log and never reach the client.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindInvalidInput, domain.KindAlreadyFinished:
		status = http.StatusBadRequest
	case domain.KindForbidden:
		status = http.StatusForbidden
	case domain.KindConflict:
		status = http.StatusConflict
	}

	reason := domain.ReasonOf(err)
	if !kind.ClientFault() {
		log.Printf("internal error: %v", err)
		reason = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: kind.String(), Reason: reason})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
