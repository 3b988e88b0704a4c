package models

import "time"

// EnrollmentStatus tracks whether a teacher/student pairing is active.
type EnrollmentStatus string

const (
	EnrollmentStatusActive  EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPassive EnrollmentStatus = "PASSIVE"
)

// Enrollment pairs a student with a teacher. A student has at most one
// ACTIVE enrollment at a time; that uniqueness is enforced by a partial
// unique index on (student_id) WHERE status = 'ACTIVE'.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	TeacherUserID string           `db:"teacher_user_id" json:"teacher_user_id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentFilter captures listing criteria for enrollments.
type EnrollmentFilter struct {
	StudentID     string
	TeacherUserID string
	Status        EnrollmentStatus
	Page          int
	PageSize      int
}
