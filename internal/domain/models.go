package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// Role classifies an authenticated principal.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Principal is the authenticated identity supplied by the auth layer.
// Services trust its ID for ownership checks and never re-derive it.
type Principal struct {
	ID   int64
	Role Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// QuestionType discriminates how an answer is validated and graded.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
	QuestionText     QuestionType = "text"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingle, QuestionMultiple, QuestionText:
		return true
	}
	return false
}

// User is a registered account. TotalScore is an aggregate that the attempt
// flow does not mutate.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         int64      `bun:"id,pk,autoincrement" json:"id"`
	Username   string     `bun:"username,notnull" json:"username"`
	Email      string     `bun:"email,notnull" json:"email"`
	Password   string     `bun:"password,notnull" json:"-"`
	Role       Role       `bun:"role,notnull,default:'student'" json:"role"`
	TotalScore int        `bun:"total_score,notnull,default:0" json:"totalScore"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	DeletedAt  *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// Quiz owns questions and carries a tag set. Soft-deleted quizzes are
// invisible to every read path.
type Quiz struct {
	bun.BaseModel `bun:"table:quizzes,alias:quiz"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	Title       string     `bun:"title,notnull" json:"title"`
	Description string     `bun:"description" json:"description"`
	CreatorID   int64      `bun:"creator_id,notnull" json:"creatorId"`
	IsPublic    bool       `bun:"is_public,notnull,default:true" json:"isPublic"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	DeletedAt   *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`

	Tags      []Tag      `bun:"m2m:quiz_tags,join:Quiz=Tag" json:"tags"`
	Questions []Question `bun:"rel:has-many,join:id=quiz_id" json:"questions,omitempty"`
}

// Question belongs to a quiz. Points default to 1 at authoring time.
type Question struct {
	bun.BaseModel `bun:"table:questions,alias:question"`

	ID        int64        `bun:"id,pk,autoincrement" json:"id"`
	QuizID    int64        `bun:"quiz_id,notnull" json:"quizId"`
	Text      string       `bun:"question_text,notnull" json:"text"`
	Type      QuestionType `bun:"question_type,notnull" json:"type"`
	Points    int          `bun:"points,notnull,default:1" json:"points"`
	CreatedAt time.Time    `bun:"created_at,notnull,default:now()" json:"createdAt"`
	DeletedAt *time.Time   `bun:"deleted_at,soft_delete,nullzero" json:"-"`

	Options []Option `bun:"rel:has-many,join:id=question_id" json:"options,omitempty"`
}

// Option is a selectable answer for a single/multiple question.
type Option struct {
	bun.BaseModel `bun:"table:options,alias:option"`

	ID         int64      `bun:"id,pk,autoincrement" json:"id"`
	QuestionID int64      `bun:"question_id,notnull" json:"questionId"`
	Text       string     `bun:"option_text,notnull" json:"text"`
	IsCorrect  bool       `bun:"is_correct,notnull,default:false" json:"isCorrect"`
	DeletedAt  *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// Tag has a unique name and relates many-to-many with quizzes.
type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:tag"`

	ID        int64      `bun:"id,pk,autoincrement" json:"id"`
	Name      string     `bun:"name,notnull,unique" json:"name"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"-"`
}

// QuizTag is the quiz<->tag join row.
type QuizTag struct {
	bun.BaseModel `bun:"table:quiz_tags,alias:qt"`

	QuizID int64 `bun:"quiz_id,pk"`
	TagID  int64 `bun:"tag_id,pk"`

	Quiz *Quiz `bun:"rel:belongs-to,join:quiz_id=id"`
	Tag  *Tag  `bun:"rel:belongs-to,join:tag_id=id"`
}

// QuizAttempt is one numbered run of a user through a quiz. FinishedAt nil
// means in progress; at most one in-progress attempt may exist per
// (user, quiz), and attempt numbers are unique per (user, quiz). Both are
// enforced by the storage layer.
type QuizAttempt struct {
	bun.BaseModel `bun:"table:quiz_attempts,alias:attempt"`

	ID         int64      `bun:"id,pk,autoincrement" json:"id"`
	QuizID     int64      `bun:"quiz_id,notnull" json:"quizId"`
	UserID     int64      `bun:"user_id,notnull" json:"userId"`
	AttemptNo  int        `bun:"attempt_no,notnull" json:"attemptNo"`
	StartedAt  time.Time  `bun:"started_at,notnull,default:now()" json:"startedAt"`
	FinishedAt *time.Time `bun:"finished_at,nullzero" json:"finishedAt,omitempty"`
	Score      int        `bun:"score,notnull,default:0" json:"score"`
}

func (a *QuizAttempt) Finished() bool { return a.FinishedAt != nil }

// Answer records the latest submission for one question within an attempt.
// IsCorrect is nil for ungraded text answers, which is distinct from false.
type Answer struct {
	bun.BaseModel `bun:"table:answers,alias:answer"`

	ID                int64     `bun:"id,pk,autoincrement" json:"id"`
	AttemptID         int64     `bun:"attempt_id,notnull" json:"attemptId"`
	QuestionID        int64     `bun:"question_id,notnull" json:"questionId"`
	SelectedOptionIDs []int64   `bun:"selected_option_ids,array" json:"selectedOptionIds,omitempty"`
	TextAnswer        string    `bun:"text_answer" json:"textAnswer,omitempty"`
	IsCorrect         *bool     `bun:"is_correct" json:"isCorrect"`
	SubmittedAt       time.Time `bun:"submitted_at,notnull,default:now()" json:"submittedAt"`
}

// AnswerSubmission is one item of a batch answer request.
type AnswerSubmission struct {
	QuestionID        int64   `json:"questionId"`
	SelectedOptionIDs []int64 `json:"selectedOptionIds,omitempty"`
	TextAnswer        string  `json:"textAnswer,omitempty"`
}

// QuizResult is the snapshot returned when an attempt is finished.
type QuizResult struct {
	AttemptID       int64    `json:"attemptId"`
	QuizID          int64    `json:"quizId"`
	UserID          int64    `json:"userId"`
	AttemptNo       int      `json:"attemptNo"`
	TotalQuestions  int      `json:"totalQuestions"`
	CorrectAnswers  int      `json:"correctAnswers"`
	TotalPoints     int      `json:"totalPoints"`
	ScorePercentage float64  `json:"scorePercentage"`
	Answers         []Answer `json:"answers"`
}

// LeaderboardEntry is a user's best finished attempt for a quiz.
type LeaderboardEntry struct {
	UserID     int64     `json:"userId"`
	Username   string    `json:"username"`
	Score      int       `json:"score"`
	AttemptNo  int       `json:"attemptNo"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Leaderboard is the ordered scoreboard for a quiz.
type Leaderboard struct {
	QuizID    int64              `json:"quizId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// GeneratedQuestion is one question in a generation skeleton.
type GeneratedQuestion struct {
	Text         string   `json:"question_text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_answer"`
}

// GeneratedQuiz is the structured skeleton returned by the quiz-generation
// collaborator. It is consumed exactly like manually authored input.
type GeneratedQuiz struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Questions   []GeneratedQuestion `json:"questions"`
}
