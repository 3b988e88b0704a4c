package models

import "time"

// Student is a tutored student profile. Every student links to exactly one
// login account through UserID.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Grade     *int      `db:"grade" json:"grade,omitempty"`
	UserID    string    `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures listing criteria for students.
type StudentFilter struct {
	Search   string
	Page     int
	PageSize int
}
