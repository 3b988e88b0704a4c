package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type packageRepository interface {
	ListCatalog(ctx context.Context) ([]models.Package, error)
	FindCatalogByID(ctx context.Context, id string) (*models.Package, error)
	CreateCatalog(ctx context.Context, pkg *models.Package) error
	ListStudentPackages(ctx context.Context, studentID string) ([]models.StudentPackage, error)
	CreateStudentPackage(ctx context.Context, grant *models.StudentPackage) error
}

type packageStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type packageAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type packageCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

const (
	packageCatalogCacheKey = "packages:catalog"
	packageCatalogCacheTTL = 10 * time.Minute
)

// CreatePackageRequest adds a catalog package.
type CreatePackageRequest struct {
	Name          string   `json:"name" validate:"required"`
	LessonCount   int      `json:"lesson_count" validate:"required,gte=1"`
	Price         *float64 `json:"price" validate:"omitempty,gte=0"`
	ExpiresInDays *int     `json:"expires_in_days" validate:"omitempty,gte=1"`
}

// AssignPackageRequest grants a catalog package to a student.
type AssignPackageRequest struct {
	StudentID string     `json:"student_id" validate:"required,uuid4"`
	PackageID string     `json:"package_id" validate:"required,uuid4"`
	StartDate *time.Time `json:"start_date"`
}

// PackageService manages the catalog and student credit grants. The debit
// side of the ledger lives in the repository, inside the session
// transactions; this service only creates grants and reads balances.
type PackageService struct {
	repo      packageRepository
	students  packageStudentReader
	audit     packageAuditWriter
	cache     packageCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPackageService constructs the package service. cache may be nil to
// disable catalog caching.
func NewPackageService(repo packageRepository, students packageStudentReader, audit packageAuditWriter, cache packageCache, validate *validator.Validate, logger *zap.Logger) *PackageService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PackageService{repo: repo, students: students, audit: audit, cache: cache, validator: validate, logger: logger}
}

// ListCatalog returns all catalog packages. The second return reports whether
// the result came from cache.
func (s *PackageService) ListCatalog(ctx context.Context) ([]models.Package, bool, error) {
	if s.cache != nil {
		var cached []models.Package
		if hit, err := s.cache.Get(ctx, packageCatalogCacheKey, &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	packages, err := s.repo.ListCatalog(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list packages")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, packageCatalogCacheKey, packages, packageCatalogCacheTTL); err != nil {
			s.logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}
	return packages, false, nil
}

// CreateCatalog adds a new catalog package.
func (s *PackageService) CreateCatalog(ctx context.Context, req CreatePackageRequest) (*models.Package, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid package payload")
	}
	pkg := &models.Package{
		Name:          req.Name,
		LessonCount:   req.LessonCount,
		Price:         req.Price,
		ExpiresInDays: req.ExpiresInDays,
	}
	if err := s.repo.CreateCatalog(ctx, pkg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create package")
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, packageCatalogCacheKey); err != nil {
			s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
		}
	}
	return pkg, nil
}

// Assign grants a catalog package to a student. The grant starts ACTIVE with
// the catalog's full lesson count; its end date follows the catalog validity
// window when one is set.
func (s *PackageService) Assign(ctx context.Context, claims *models.JWTClaims, req AssignPackageRequest) (*models.StudentPackage, error) {
	if claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can assign packages")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	pkg, err := s.repo.FindCatalogByID(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "package not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	grant := &models.StudentPackage{
		StudentID:        req.StudentID,
		PackageID:        pkg.ID,
		RemainingLessons: pkg.LessonCount,
		StartDate:        start,
		EndDate:          models.ComputePackageEndDate(start, pkg.ExpiresInDays),
		Status:           models.PackageStatusActive,
	}
	if err := s.repo.CreateStudentPackage(ctx, grant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign package")
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"student_id": grant.StudentID,
		"package_id": grant.PackageID,
		"lessons":    grant.RemainingLessons,
	})
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionPackageAssign,
		Resource:   "student_packages",
		ResourceID: &grant.ID,
		NewValues:  payload,
	}); err != nil {
		s.logger.Warn("failed to record package assignment audit log", zap.Error(err))
	}
	return grant, nil
}

// ListStudentPackages returns the grants visible to the caller. Students see
// only their own grants; teachers and admins may scope by student.
func (s *PackageService) ListStudentPackages(ctx context.Context, claims *models.JWTClaims, studentID string) ([]models.StudentPackage, error) {
	switch claims.Role {
	case models.RoleAdmin, models.RoleTeacher:
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		studentID = student.ID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot list packages")
	}

	grants, err := s.repo.ListStudentPackages(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list student packages")
	}
	return grants, nil
}
