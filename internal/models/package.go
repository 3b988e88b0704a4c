package models

import "time"

// StudentPackageStatus describes the lifecycle of a purchased lesson package.
type StudentPackageStatus string

const (
	PackageStatusActive  StudentPackageStatus = "ACTIVE"
	PackageStatusExpired StudentPackageStatus = "EXPIRED"
	PackageStatusUsedUp  StudentPackageStatus = "USED_UP"
)

// Package is a catalog entry describing a purchasable lesson bundle.
type Package struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	LessonCount   int       `db:"lesson_count" json:"lesson_count"`
	Price         *float64  `db:"price" json:"price,omitempty"`
	ExpiresInDays *int      `db:"expires_in_days" json:"expires_in_days,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentPackage is a student's purchased lesson-credit grant. RemainingLessons
// is the credit balance decremented by the ledger, never below zero.
type StudentPackage struct {
	ID               string               `db:"id" json:"id"`
	StudentID        string               `db:"student_id" json:"student_id"`
	PackageID        string               `db:"package_id" json:"package_id"`
	RemainingLessons int                  `db:"remaining_lessons" json:"remaining_lessons"`
	StartDate        time.Time            `db:"start_date" json:"start_date"`
	EndDate          *time.Time           `db:"end_date" json:"end_date,omitempty"`
	Status           StudentPackageStatus `db:"status" json:"status"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at"`
}

// ComputePackageEndDate derives the expiry timestamp for a grant from the
// catalog validity window. A nil expiresInDays means the grant never expires.
func ComputePackageEndDate(startDate time.Time, expiresInDays *int) *time.Time {
	if expiresInDays == nil || *expiresInDays <= 0 {
		return nil
	}
	end := startDate.AddDate(0, 0, *expiresInDays)
	return &end
}
