package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutortrack/tutortrack-api/internal/models"
)

// PackageRepository handles the package catalog and the student credit ledger.
type PackageRepository struct {
	db *sqlx.DB
}

// NewPackageRepository constructs the repository.
func NewPackageRepository(db *sqlx.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

// ListCatalog returns all catalog packages, newest first.
func (r *PackageRepository) ListCatalog(ctx context.Context) ([]models.Package, error) {
	const query = `SELECT id, name, lesson_count, price, expires_in_days, created_at, updated_at FROM packages ORDER BY created_at DESC`
	var packages []models.Package
	if err := r.db.SelectContext(ctx, &packages, query); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return packages, nil
}

// FindCatalogByID returns a catalog package by identifier.
func (r *PackageRepository) FindCatalogByID(ctx context.Context, id string) (*models.Package, error) {
	const query = `SELECT id, name, lesson_count, price, expires_in_days, created_at, updated_at FROM packages WHERE id = $1 LIMIT 1`
	var pkg models.Package
	if err := r.db.GetContext(ctx, &pkg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find package by id: %w", err)
	}
	return &pkg, nil
}

// CreateCatalog inserts a new catalog package.
func (r *PackageRepository) CreateCatalog(ctx context.Context, pkg *models.Package) error {
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now
	const query = `INSERT INTO packages (id, name, lesson_count, price, expires_in_days, created_at, updated_at) VALUES (:id, :name, :lesson_count, :price, :expires_in_days, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, pkg); err != nil {
		return fmt.Errorf("create package: %w", err)
	}
	return nil
}

// ListStudentPackages returns a student's package grants, newest first. An
// empty studentID lists grants for all students.
func (r *PackageRepository) ListStudentPackages(ctx context.Context, studentID string) ([]models.StudentPackage, error) {
	base := `SELECT id, student_id, package_id, remaining_lessons, start_date, end_date, status, created_at, updated_at FROM student_packages`
	var conditions []string
	var args []interface{}
	if studentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}
	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	var grants []models.StudentPackage
	if err := r.db.SelectContext(ctx, &grants, query, args...); err != nil {
		return nil, fmt.Errorf("list student packages: %w", err)
	}
	return grants, nil
}

// CreateStudentPackage inserts a new credit grant.
func (r *PackageRepository) CreateStudentPackage(ctx context.Context, grant *models.StudentPackage) error {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grant.CreatedAt = now
	grant.UpdatedAt = now
	const query = `INSERT INTO student_packages (id, student_id, package_id, remaining_lessons, start_date, end_date, status, created_at, updated_at) VALUES (:id, :student_id, :package_id, :remaining_lessons, :start_date, :end_date, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grant); err != nil {
		return fmt.Errorf("create student package: %w", err)
	}
	return nil
}

// HasRemainingCredit reports whether the student holds an ACTIVE, unexpired
// grant with at least one lesson left. Read-only; used at session creation.
func (r *PackageRepository) HasRemainingCredit(ctx context.Context, studentID string, now time.Time) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM student_packages
        WHERE student_id = $1 AND status = $2 AND remaining_lessons > 0
          AND (end_date IS NULL OR end_date > $3))`
	var available bool
	if err := r.db.GetContext(ctx, &available, query, studentID, models.PackageStatusActive, now); err != nil {
		return false, fmt.Errorf("check remaining credit: %w", err)
	}
	return available, nil
}

// ConsumeCreditTx debits one lesson credit inside the caller's transaction.
//
// The most recently created ACTIVE grant is locked with FOR UPDATE so that
// concurrent consumptions for the same student serialize on the row. Lazy
// status detection happens here: a stale end_date flips the grant to EXPIRED
// and a zero balance flips it to USED_UP, both without consuming. Exactly one
// grant row is mutated per call. The boolean result distinguishes "debited"
// from "no credit available"; only storage failures surface as errors.
func (r *PackageRepository) ConsumeCreditTx(ctx context.Context, tx *sqlx.Tx, studentID string, now time.Time) (bool, error) {
	const selectQuery = `SELECT id, student_id, package_id, remaining_lessons, start_date, end_date, status, created_at, updated_at
        FROM student_packages
        WHERE student_id = $1 AND status = $2
        ORDER BY created_at DESC LIMIT 1 FOR UPDATE`

	var grant models.StudentPackage
	if err := tx.GetContext(ctx, &grant, selectQuery, studentID, models.PackageStatusActive); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("lock student package: %w", err)
	}

	if grant.EndDate != nil && grant.EndDate.Before(now) {
		const expireQuery = `UPDATE student_packages SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, expireQuery, grant.ID, models.PackageStatusExpired, now); err != nil {
			return false, fmt.Errorf("expire student package: %w", err)
		}
		return false, nil
	}

	if grant.RemainingLessons <= 0 {
		const usedUpQuery = `UPDATE student_packages SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, usedUpQuery, grant.ID, models.PackageStatusUsedUp, now); err != nil {
			return false, fmt.Errorf("mark student package used up: %w", err)
		}
		return false, nil
	}

	remaining := grant.RemainingLessons - 1
	status := models.PackageStatusActive
	if remaining == 0 {
		status = models.PackageStatusUsedUp
	}
	const debitQuery = `UPDATE student_packages SET remaining_lessons = $2, status = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, debitQuery, grant.ID, remaining, status, now); err != nil {
		return false, fmt.Errorf("debit student package: %w", err)
	}
	return true, nil
}
