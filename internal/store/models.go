package store

import (
	"strings"
	"time"
)

const (
	RoleStudent = "student"
	RoleTutor   = "tutor"

	RequestPending   = "pending"
	RequestAccepted  = "accepted"
	RequestRejected  = "rejected"
	RequestCancelled = "cancelled"

	SessionActive = "active"
	SessionClosed = "closed"

	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderLocal  = "local"
	ProviderManual = "manual"
)

type Account struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type TutorProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Bio         string    `json:"bio"`
	Subjects    []string  `json:"subjects"`
	IsActive    bool      `json:"isActive"`
	RatingTotal int       `json:"ratingTotal"`
	RatingCount int       `json:"ratingCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AverageRating is derived on read and never stored.
func (p TutorProfile) AverageRating() float64 {
	if p.RatingCount <= 0 {
		return 0
	}
	return float64(p.RatingTotal) / float64(p.RatingCount)
}

type Review struct {
	ID         string    `json:"id"`
	TutorID    string    `json:"tutorId"`
	SessionID  string    `json:"sessionId"`
	StudentID  string    `json:"studentId"`
	Rating     int       `json:"rating"`
	ReviewText string    `json:"reviewText"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Request struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	TutorID     string    `json:"tutorId"`
	TutorName   string    `json:"tutorName"`
	Subject     string    `json:"subject"`
	Message     string    `json:"message"`
	Status      string    `json:"status"`
	SessionID   string    `json:"sessionId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Session struct {
	ID                 string     `json:"id"`
	RequestID          string     `json:"requestId"`
	StudentID          string     `json:"studentId"`
	StudentName        string     `json:"studentName"`
	TutorID            string     `json:"tutorId"`
	TutorName          string     `json:"tutorName"`
	Subject            string     `json:"subject"`
	Status             string     `json:"status"`
	ActiveGoalsPreview []string   `json:"activeGoalsPreview"`
	GoalsCount         int        `json:"goalsCount"`
	HasReview          bool       `json:"hasReview"`
	ReviewRating       *int       `json:"reviewRating,omitempty"`
	ReviewText         string     `json:"reviewText,omitempty"`
	ReviewedAt         *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (s Session) IsParticipant(accountID string) bool {
	return accountID != "" && (s.StudentID == accountID || s.TutorID == accountID)
}

// RoleOf returns the role the account holds in this session, or "".
func (s Session) RoleOf(accountID string) string {
	switch accountID {
	case "":
		return ""
	case s.TutorID:
		return RoleTutor
	case s.StudentID:
		return RoleStudent
	default:
		return ""
	}
}

type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Seq        int64     `json:"seq"`
	SenderID   string    `json:"senderId"`
	SenderRole string    `json:"senderRole"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	Delivered  bool      `json:"delivered"`
	Seen       bool      `json:"seen"`
}

type Note struct {
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

type Goal struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Text        string     `json:"text"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

type Summary struct {
	SessionID   string     `json:"sessionId"`
	Content     string     `json:"content"`
	Provider    string     `json:"provider"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// RatingDrift reports a tutor whose stored aggregate disagreed with its reviews.
type RatingDrift struct {
	TutorID       string
	StoredTotal   int
	StoredCount   int
	ComputedTotal int
	ComputedCount int
}

// GoalsPreview projects goals (in creation order) onto the incomplete texts and their count.
func GoalsPreview(goals []Goal) ([]string, int) {
	preview := make([]string, 0, len(goals))
	for _, goal := range goals {
		if goal.Completed {
			continue
		}
		preview = append(preview, goal.Text)
	}
	return preview, len(preview)
}

// NormalizeSubjects trims, drops blanks and removes duplicates while keeping order.
func NormalizeSubjects(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		trimmed := strings.TrimSpace(subject)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
