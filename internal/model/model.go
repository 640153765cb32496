package model

import (
	"context"
	"fmt"
	"time"
)

// Role represents a user's access level.
type Role string

const (
	// RoleTeacher can create exams, evaluate submissions and run destructive admin actions.
	RoleTeacher Role = "teacher"
	// RoleStudent can take exams and view their own results.
	RoleStudent Role = "student"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// User is a server-side account record. Google-federated accounts have an
// empty PasswordHash.
type User struct {
	UID          string    `json:"uid" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

// Profile is the per-user document holding the role and the AI key.
// The role is assigned at first login and never changed through this system.
type Profile struct {
	UID          string `json:"uid" bson:"_id"`
	Role         Role   `json:"role" bson:"role"`
	DisplayName  string `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Email        string `json:"email,omitempty" bson:"email,omitempty"`
	GeminiAPIKey string `json:"geminiApiKey,omitempty" bson:"geminiApiKey,omitempty"`
}

// Question is a single exam question with its allocated marks.
type Question struct {
	Question string `json:"question" bson:"question"`
	Marks    int    `json:"marks" bson:"marks"`
}

// Exam is an immutable question paper. There is no update operation;
// an exam only ever gets created or deleted.
type Exam struct {
	ID         string     `json:"id" bson:"_id"`
	Topic      string     `json:"topic" bson:"topic"`
	TotalMarks int        `json:"totalMarks" bson:"totalMarks"`
	Questions  []Question `json:"questions" bson:"questions"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
}

// NewExamID builds the caller-generated exam document id.
func NewExamID(now time.Time) string {
	return fmt.Sprintf("exam-%d", now.UnixMilli())
}

// NewSubmissionID builds a submission document id. index < 0 means a single
// upload; bulk uploads pass their position to keep ids unique within one
// millisecond.
func NewSubmissionID(now time.Time, index int) string {
	if index < 0 {
		return fmt.Sprintf("sub-%d", now.UnixMilli())
	}
	return fmt.Sprintf("sub-%d-%d", now.UnixMilli(), index)
}

// Answer is the graded outcome for one question, aligned positionally with
// Exam.Questions.
type Answer struct {
	Question string  `json:"question" bson:"question"`
	Score    float64 `json:"score" bson:"score"`
	Feedback string  `json:"feedback" bson:"feedback"`
}

// GradedResult is the evaluation attached to a submission. Each write
// replaces the previous result wholesale; no history is kept.
type GradedResult struct {
	TotalScore      float64  `json:"totalScore" bson:"totalScore"`
	OverallFeedback string   `json:"overallFeedback" bson:"overallFeedback"`
	Answers         []Answer `json:"answers" bson:"answers"`
	// Best-effort AI extraction from the scanned sheet; not validated.
	DetectedStudentName string `json:"detectedStudentName,omitempty" bson:"detectedStudentName,omitempty"`
	DetectedRollNumber  string `json:"detectedRollNumber,omitempty" bson:"detectedRollNumber,omitempty"`
}

// Submission is one student's uploaded answer sheet for an exam.
// ExamID carries no referential-integrity enforcement: deleting an exam
// without cascade orphans its submissions.
type Submission struct {
	ID          string `json:"id" bson:"_id"`
	ExamID      string `json:"examId" bson:"examId"`
	StudentName string `json:"studentName" bson:"studentName"`
	// Deprecated: legacy submissions stored the full sheet inline (base64).
	AnswerSheet string `json:"answerSheetImage,omitempty" bson:"answerSheetImage,omitempty"`
	// Lightweight metadata for newer submissions.
	FileName    string        `json:"fileName,omitempty" bson:"fileName,omitempty"`
	FileSize    int64         `json:"fileSize,omitempty" bson:"fileSize,omitempty"`
	FileMime    string        `json:"fileMime,omitempty" bson:"fileMime,omitempty"`
	FileHash    string        `json:"fileHash,omitempty" bson:"fileHash,omitempty"` // SHA-256 hex of the original file
	SubmittedAt time.Time     `json:"submittedAt" bson:"submittedAt"`
	Result      *GradedResult `json:"result,omitempty" bson:"result,omitempty"`
}

// ClampScore normalizes a manually edited score into [0, max].
// NaN and negative values become 0.
func ClampScore(score float64, max int) float64 {
	if !(score > 0) { // catches NaN, zero and negatives
		return 0
	}
	if score > float64(max) {
		return float64(max)
	}
	return score
}

// SumMarks returns the total of all question marks.
func SumMarks(questions []Question) int {
	total := 0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

// AuthInfo pairs the identity-provider user with its profile document.
type AuthInfo struct {
	User    *User
	Profile *Profile
}

type authCtxKey struct{}

// ContextWithAuth stores the authenticated user and profile in the request context.
func ContextWithAuth(ctx context.Context, u *User, p *Profile) context.Context {
	return context.WithValue(ctx, authCtxKey{}, &AuthInfo{User: u, Profile: p})
}

// AuthFromContext retrieves the authenticated user from context, or nil.
func AuthFromContext(ctx context.Context) *AuthInfo {
	a, _ := ctx.Value(authCtxKey{}).(*AuthInfo)
	return a
}
