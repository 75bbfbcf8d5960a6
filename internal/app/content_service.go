package app

import (
	"context"
	"strings"

	"quiz-attempt-service/internal/domain"
)

// OptionInput is one authored option.
type OptionInput struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// QuestionInput is one authored question with its options.
type QuestionInput struct {
	Text    string              `json:"text"`
	Type    domain.QuestionType `json:"type"`
	Points  int                 `json:"points"`
	Options []OptionInput       `json:"options"`
}

// QuizInput is the authoring payload for a quiz.
type QuizInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IsPublic    bool            `json:"isPublic"`
	Tags        []string        `json:"tags"`
	Questions   []QuestionInput `json:"questions"`
}

// ContentService owns quiz authoring: quizzes, questions, options, tags,
// and AI-generated quiz intake.
type ContentService struct {
	store     Store
	generator QuizGenerator // optional
}

func NewContentService(store Store, generator QuizGenerator) *ContentService {
	return &ContentService{store: store, generator: generator}
}

// CreateQuiz authors a quiz with its questions and tags in one transaction.
func (s *ContentService) CreateQuiz(ctx context.Context, principal domain.Principal, in QuizInput) (*domain.Quiz, error) {
	if !principal.IsAdmin() {
		return nil, domain.E(domain.KindForbidden, "only admins can author quizzes")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, domain.E(domain.KindInvalidInput, "quiz title is required")
	}
	for i := range in.Questions {
		if err := validateQuestion(&in.Questions[i]); err != nil {
			return nil, err
		}
	}

	var quiz *domain.Quiz
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		tagIDs := make([]int64, 0, len(in.Tags))
		tags := make([]domain.Tag, 0, len(in.Tags))
		for _, name := range in.Tags {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			tag, err := tx.Tags().GetOrCreate(ctx, name)
			if err != nil {
				return err
			}
			tagIDs = append(tagIDs, tag.ID)
			tags = append(tags, *tag)
		}

		quiz = &domain.Quiz{
			Title:       in.Title,
			Description: in.Description,
			CreatorID:   principal.ID,
			IsPublic:    in.IsPublic,
		}
		if err := tx.Quizzes().Create(ctx, quiz, tagIDs); err != nil {
			return err
		}
		quiz.Tags = tags

		for _, q := range in.Questions {
			question := buildQuestion(quiz.ID, q)
			if err := tx.Questions().Create(ctx, question); err != nil {
				return err
			}
			quiz.Questions = append(quiz.Questions, *question)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quiz, nil
}

// GetQuiz returns a quiz with its questions, options, and tags.
func (s *ContentService) GetQuiz(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	quiz, err := s.store.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.Questions().ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	quiz.Questions = questions
	return quiz, nil
}

// ListPublicQuizzes pages through public quizzes.
func (s *ContentService) ListPublicQuizzes(ctx context.Context, skip, limit int) ([]domain.Quiz, error) {
	return s.store.Quizzes().ListPublic(ctx, skip, clampLimit(limit))
}

// ListQuizzesByCreator pages through a creator's quizzes.
func (s *ContentService) ListQuizzesByCreator(ctx context.Context, creatorID int64, skip, limit int) ([]domain.Quiz, error) {
	return s.store.Quizzes().ListByCreator(ctx, creatorID, skip, clampLimit(limit))
}

// SearchQuizzesByTag finds public quizzes whose tags match the term.
func (s *ContentService) SearchQuizzesByTag(ctx context.Context, tag string, skip, limit int) ([]domain.Quiz, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, domain.E(domain.KindInvalidInput, "tag parameter is required for search")
	}
	return s.store.Quizzes().SearchByTag(ctx, tag, skip, clampLimit(limit))
}

// UpdateQuiz edits quiz metadata. The creator or any admin may edit.
func (s *ContentService) UpdateQuiz(ctx context.Context, principal domain.Principal, quizID int64, title, description *string, isPublic *bool) (*domain.Quiz, error) {
	quiz, err := s.store.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.CreatorID != principal.ID && !principal.IsAdmin() {
		return nil, domain.E(domain.KindForbidden, "quiz %d belongs to another creator", quizID)
	}
	if title != nil {
		if strings.TrimSpace(*title) == "" {
			return nil, domain.E(domain.KindInvalidInput, "quiz title cannot be empty")
		}
		quiz.Title = *title
	}
	if description != nil {
		quiz.Description = *description
	}
	if isPublic != nil {
		quiz.IsPublic = *isPublic
	}
	if err := s.store.Quizzes().Update(ctx, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}

// DeleteQuiz soft-deletes a quiz. The creator or any admin may delete.
func (s *ContentService) DeleteQuiz(ctx context.Context, principal domain.Principal, quizID int64) error {
	quiz, err := s.store.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		return err
	}
	if quiz.CreatorID != principal.ID && !principal.IsAdmin() {
		return domain.E(domain.KindForbidden, "quiz %d belongs to another creator", quizID)
	}
	return s.store.Quizzes().SoftDelete(ctx, quizID)
}

// AddQuestion appends a question (with options) to an existing quiz.
func (s *ContentService) AddQuestion(ctx context.Context, principal domain.Principal, quizID int64, in QuestionInput) (*domain.Question, error) {
	quiz, err := s.store.Quizzes().GetByID(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.CreatorID != principal.ID && !principal.IsAdmin() {
		return nil, domain.E(domain.KindForbidden, "quiz %d belongs to another creator", quizID)
	}
	if err := validateQuestion(&in); err != nil {
		return nil, err
	}
	question := buildQuestion(quizID, in)
	if err := s.store.Questions().Create(ctx, question); err != nil {
		return nil, err
	}
	return question, nil
}

// UpdateQuestion edits a question's text, type, or points. The quiz creator
// or any admin may edit.
func (s *ContentService) UpdateQuestion(ctx context.Context, principal domain.Principal, questionID int64, text *string, questionType *domain.QuestionType, points *int) (*domain.Question, error) {
	question, err := s.store.Questions().GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.store.Quizzes().GetByID(ctx, question.QuizID)
	if err != nil {
		return nil, err
	}
	if quiz.CreatorID != principal.ID && !principal.IsAdmin() {
		return nil, domain.E(domain.KindForbidden, "quiz %d belongs to another creator", quiz.ID)
	}
	if text != nil {
		if strings.TrimSpace(*text) == "" {
			return nil, domain.E(domain.KindInvalidInput, "question text cannot be empty")
		}
		question.Text = *text
	}
	if questionType != nil {
		if !questionType.Valid() {
			return nil, domain.E(domain.KindInvalidInput, "unsupported question type %q", *questionType)
		}
		question.Type = *questionType
	}
	if points != nil {
		if *points < 1 {
			return nil, domain.E(domain.KindInvalidInput, "question points must be at least 1")
		}
		question.Points = *points
	}
	if err := s.store.Questions().Update(ctx, question); err != nil {
		return nil, err
	}
	return question, nil
}

// DeleteQuestion soft-deletes a question. The quiz creator or any admin may
// delete.
func (s *ContentService) DeleteQuestion(ctx context.Context, principal domain.Principal, questionID int64) error {
	question, err := s.store.Questions().GetByID(ctx, questionID)
	if err != nil {
		return err
	}
	quiz, err := s.store.Quizzes().GetByID(ctx, question.QuizID)
	if err != nil {
		return err
	}
	if quiz.CreatorID != principal.ID && !principal.IsAdmin() {
		return domain.E(domain.KindForbidden, "quiz %d belongs to another creator", quiz.ID)
	}
	return s.store.Questions().SoftDelete(ctx, questionID)
}

// ListTags returns every known tag.
func (s *ContentService) ListTags(ctx context.Context) ([]domain.Tag, error) {
	return s.store.Tags().List(ctx)
}

// GenerateQuiz asks the generation collaborator for a quiz skeleton and
// feeds it through the normal authoring path.
func (s *ContentService) GenerateQuiz(ctx context.Context, principal domain.Principal, prompt string, numQuestions int, tags []string) (*domain.Quiz, error) {
	if !principal.IsAdmin() {
		return nil, domain.E(domain.KindForbidden, "only admins can generate quizzes")
	}
	if s.generator == nil {
		return nil, domain.E(domain.KindInvalidInput, "quiz generation is not configured")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.E(domain.KindInvalidInput, "generation prompt is required")
	}
	if numQuestions <= 0 {
		numQuestions = 5
	}

	generated, err := s.generator.Generate(ctx, prompt, numQuestions)
	if err != nil {
		return nil, err
	}

	in := QuizInput{
		Title:       generated.Title,
		Description: generated.Description,
		IsPublic:    true,
		Tags:        tags,
	}
	for _, gq := range generated.Questions {
		if gq.CorrectIndex < 0 || gq.CorrectIndex >= len(gq.Options) {
			return nil, domain.E(domain.KindInvalidInput, "generated question has correct index %d out of range", gq.CorrectIndex)
		}
		question := QuestionInput{
			Text:   gq.Text,
			Type:   domain.QuestionSingle,
			Points: 1,
		}
		for i, text := range gq.Options {
			question.Options = append(question.Options, OptionInput{Text: text, IsCorrect: i == gq.CorrectIndex})
		}
		in.Questions = append(in.Questions, question)
	}
	return s.CreateQuiz(ctx, principal, in)
}

// validateQuestion normalizes and checks one authored question.
// Single/multiple questions with zero correct options are accepted; they
// simply grade false for everyone.
func validateQuestion(in *QuestionInput) error {
	if strings.TrimSpace(in.Text) == "" {
		return domain.E(domain.KindInvalidInput, "question text is required")
	}
	if !in.Type.Valid() {
		return domain.E(domain.KindInvalidInput, "unsupported question type %q", in.Type)
	}
	if in.Points == 0 {
		in.Points = 1
	}
	if in.Points < 1 {
		return domain.E(domain.KindInvalidInput, "question points must be at least 1")
	}
	if in.Type != domain.QuestionText && len(in.Options) == 0 {
		return domain.E(domain.KindInvalidInput, "options are required for %s questions", in.Type)
	}
	return nil
}

func buildQuestion(quizID int64, in QuestionInput) *domain.Question {
	question := &domain.Question{
		QuizID: quizID,
		Text:   in.Text,
		Type:   in.Type,
		Points: in.Points,
	}
	for _, opt := range in.Options {
		question.Options = append(question.Options, domain.Option{
			Text:      opt.Text,
			IsCorrect: opt.IsCorrect,
		})
	}
	return question
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}
