package models

import (
	"fmt"
	"strings"
	"time"
)

// HomeworkStatus tracks a homework assignment through its lifecycle.
type HomeworkStatus string

const (
	HomeworkStatusAssigned  HomeworkStatus = "ASSIGNED"
	HomeworkStatusSubmitted HomeworkStatus = "SUBMITTED"
	HomeworkStatusGraded    HomeworkStatus = "GRADED"
)

// HomeworkStatuses lists every valid homework status.
var HomeworkStatuses = []HomeworkStatus{HomeworkStatusAssigned, HomeworkStatusSubmitted, HomeworkStatusGraded}

// ParseHomeworkStatus parses a raw homework status at the boundary.
func ParseHomeworkStatus(raw string) (HomeworkStatus, error) {
	v := HomeworkStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range HomeworkStatuses {
		if v == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid homework status %q", raw)
}

// Homework is an assignment given by a teacher to one of their students.
type Homework struct {
	ID            string         `db:"id" json:"id"`
	StudentID     string         `db:"student_id" json:"student_id"`
	TeacherUserID string         `db:"teacher_user_id" json:"teacher_user_id"`
	Title         string         `db:"title" json:"title"`
	Description   *string        `db:"description" json:"description,omitempty"`
	DueDate       *time.Time     `db:"due_date" json:"due_date,omitempty"`
	Status        HomeworkStatus `db:"status" json:"status"`
	Grade         *int           `db:"grade" json:"grade,omitempty"`
	TeacherNote   *string        `db:"teacher_note" json:"teacher_note,omitempty"`
	StudentNote   *string        `db:"student_note" json:"student_note,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// HomeworkFilter captures listing criteria for homeworks.
type HomeworkFilter struct {
	StudentID     string
	TeacherUserID string
	Status        HomeworkStatus
	Page          int
	PageSize      int
}
