package models

import "time"

// LessonReport is a teacher's written summary of one lesson session. Reports
// are hard-deleted together with their session.
type LessonReport struct {
	ID                string    `db:"id" json:"id"`
	LessonSessionID   string    `db:"lesson_session_id" json:"lesson_session_id"`
	StudentID         string    `db:"student_id" json:"student_id"`
	TeacherUserID     string    `db:"teacher_user_id" json:"teacher_user_id"`
	Topic             *string   `db:"topic" json:"topic,omitempty"`
	PerformanceRating *int      `db:"performance_rating" json:"performance_rating,omitempty"`
	TeacherNote       *string   `db:"teacher_note" json:"teacher_note,omitempty"`
	NextNote          *string   `db:"next_note" json:"next_note,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// LessonReportFilter captures listing criteria for lesson reports.
type LessonReportFilter struct {
	StudentID       string
	TeacherUserID   string
	LessonSessionID string
	Page            int
	PageSize        int
}
