package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quiz-attempt-service/internal/domain"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client calls the Gemini generateContent REST API and parses the response
// into a quiz skeleton. It implements app.QuizGenerator.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
	}
}

// NewClientWithBaseURL is test-only for pointing at a fake server.
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate asks the model for a quiz on the prompt topic and validates the
// structured response before returning it.
func (c *Client) Generate(ctx context.Context, prompt string, numQuestions int) (domain.GeneratedQuiz, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: buildPrompt(prompt, numQuestions)}}}},
	})
	if err != nil {
		return domain.GeneratedQuiz{}, domain.Wrap(err, domain.KindInternal, "encode generation request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.GeneratedQuiz{}, domain.Wrap(err, domain.KindInternal, "build generation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeneratedQuiz{}, domain.Wrap(err, domain.KindInternal, "call generation service")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeneratedQuiz{}, domain.E(domain.KindInternal, "generation service returned %d: %s", resp.StatusCode, msg)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.GeneratedQuiz{}, domain.Wrap(err, domain.KindInternal, "decode generation response")
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return domain.GeneratedQuiz{}, domain.E(domain.KindInternal, "generation service returned no candidates")
	}

	quiz, err := parseQuizJSON(decoded.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return domain.GeneratedQuiz{}, err
	}
	return quiz, nil
}

func buildPrompt(topic string, numQuestions int) string {
	return fmt.Sprintf(`Create a quiz about: %s

Generate exactly %d multiple choice questions.

Return ONLY a valid JSON response in this exact format:
{
    "title": "Quiz Title",
    "description": "Brief quiz description",
    "questions": [
        {
            "question_text": "The question text",
            "options": ["Option 1", "Option 2", "Option 3", "Option 4"],
            "correct_answer": 0
        }
    ]
}

Requirements:
- Each question must have exactly 4 options
- correct_answer must be the index (0-3) of the correct option
- Make questions challenging but fair
- Ensure all JSON is properly formatted
- Do not include any text before or after the JSON`, topic, numQuestions)
}

// parseQuizJSON strips markdown code fences the model sometimes wraps the
// payload in, then decodes and sanity-checks the skeleton.
func parseQuizJSON(raw string) (domain.GeneratedQuiz, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var quiz domain.GeneratedQuiz
	if err := json.Unmarshal([]byte(text), &quiz); err != nil {
		return domain.GeneratedQuiz{}, domain.Wrap(err, domain.KindInternal, "parse generated quiz")
	}
	if quiz.Title == "" || len(quiz.Questions) == 0 {
		return domain.GeneratedQuiz{}, domain.E(domain.KindInternal, "generated quiz is missing title or questions")
	}
	for i, q := range quiz.Questions {
		if q.Text == "" || len(q.Options) < 2 {
			return domain.GeneratedQuiz{}, domain.E(domain.KindInternal, "generated question %d is incomplete", i)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return domain.GeneratedQuiz{}, domain.E(domain.KindInternal, "generated question %d has out-of-range correct answer", i)
		}
	}
	return quiz, nil
}
