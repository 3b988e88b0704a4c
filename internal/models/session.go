package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionMode is the delivery mode of a lesson session.
type SessionMode string

const (
	SessionModeOnline   SessionMode = "ONLINE"
	SessionModeInPerson SessionMode = "IN_PERSON"
)

// SessionStatus is the lifecycle state of a lesson session.
type SessionStatus string

const (
	SessionStatusPlanned             SessionStatus = "PLANNED"
	SessionStatusPendingConfirmation SessionStatus = "PENDING_CONFIRMATION"
	SessionStatusCompleted           SessionStatus = "COMPLETED"
	SessionStatusCancelled           SessionStatus = "CANCELLED"
	SessionStatusMissed              SessionStatus = "MISSED"
)

// SessionStatuses lists every valid status value.
var SessionStatuses = []SessionStatus{
	SessionStatusPlanned,
	SessionStatusPendingConfirmation,
	SessionStatusCompleted,
	SessionStatusCancelled,
	SessionStatusMissed,
}

// SessionModes lists every valid mode value.
var SessionModes = []SessionMode{SessionModeOnline, SessionModeInPerson}

// Terminal reports whether no further transition is permitted out of s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusMissed:
		return true
	}
	return false
}

// manualTransitions is the closed transition table for explicit status edits.
// Only CANCELLED and MISSED are manually settable, and only from the two
// non-terminal confirmation states.
var manualTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPlanned:             {SessionStatusCancelled, SessionStatusMissed},
	SessionStatusPendingConfirmation: {SessionStatusCancelled, SessionStatusMissed},
	SessionStatusCompleted:           {},
	SessionStatusCancelled:           {},
	SessionStatusMissed:              {},
}

// ManualTargets returns the statuses reachable from s via an explicit edit.
func ManualTargets(s SessionStatus) []SessionStatus {
	return manualTransitions[s]
}

// CanTransitionManually reports whether an explicit edit from -> to is legal.
func CanTransitionManually(from, to SessionStatus) bool {
	for _, allowed := range manualTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseSessionStatus parses a raw status value once at the boundary.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	v := SessionStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, s := range SessionStatuses {
		if v == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", raw)
}

// ParseSessionMode parses a raw mode value once at the boundary.
func ParseSessionMode(raw string) (SessionMode, error) {
	v := SessionMode(strings.ToUpper(strings.TrimSpace(raw)))
	for _, m := range SessionModes {
		if v == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid session mode %q", raw)
}

// LessonSession is one scheduled lesson between a teacher and a student.
//
// The two *_marked_at fields form the dual-confirmation protocol: the status
// is derived from their presence (see RecalcStatus) unless a terminal status
// was forced by a cancel, a missed report, or a manual edit. Consumed flips
// false -> true at most once, when the session debits a lesson credit.
type LessonSession struct {
	ID              string      `db:"id" json:"id"`
	StudentID       string      `db:"student_id" json:"student_id"`
	TeacherUserID   string      `db:"teacher_user_id" json:"teacher_user_id"`
	CreatedByUserID string      `db:"created_by_user_id" json:"created_by_user_id"`
	ScheduledStart  time.Time   `db:"scheduled_start" json:"scheduled_start"`
	DurationMin     int         `db:"duration_min" json:"duration_min"`
	Mode            SessionMode `db:"mode" json:"mode"`
	Topic           *string     `db:"topic" json:"topic,omitempty"`

	Status   SessionStatus `db:"status" json:"status"`
	Consumed bool          `db:"consumed" json:"consumed"`

	TeacherRatingToStudent *int       `db:"teacher_rating_to_student" json:"teacher_rating_to_student,omitempty"`
	TeacherMarkNote        *string    `db:"teacher_mark_note" json:"teacher_mark_note,omitempty"`
	TeacherMarkedAt        *time.Time `db:"teacher_marked_at" json:"teacher_marked_at,omitempty"`

	StudentRatingToTeacher *int       `db:"student_rating_to_teacher" json:"student_rating_to_teacher,omitempty"`
	StudentNote            *string    `db:"student_note" json:"student_note,omitempty"`
	StudentMarkedAt        *time.Time `db:"student_marked_at" json:"student_marked_at,omitempty"`

	CancelledByRole   *UserRole  `db:"cancelled_by_role" json:"cancelled_by_role,omitempty"`
	CancelledByUserID *string    `db:"cancelled_by_user_id" json:"cancelled_by_user_id,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	AdminNote *string   `db:"admin_note" json:"admin_note,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RecalcStatus derives the confirmation status from the two marks. Terminal
// cancel/missed states are sticky and never recomputed.
func (s *LessonSession) RecalcStatus() SessionStatus {
	if s.Status == SessionStatusCancelled || s.Status == SessionStatusMissed {
		return s.Status
	}
	teacherOK := s.TeacherMarkedAt != nil
	studentOK := s.StudentMarkedAt != nil
	switch {
	case teacherOK && studentOK:
		return SessionStatusCompleted
	case teacherOK || studentOK:
		return SessionStatusPendingConfirmation
	default:
		return SessionStatusPlanned
	}
}

// SessionFilter captures listing criteria for lesson sessions.
type SessionFilter struct {
	StudentID     string
	TeacherUserID string
	Status        SessionStatus
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
}
