package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// RepositoryPort defines data access methods for the catalog.
type RepositoryPort interface {
	ListEnabled(ctx context.Context) ([]Resource, error)
	ListAll(ctx context.Context) ([]Resource, error)
	Get(ctx context.Context, id int64) (Resource, error)
	Create(ctx context.Context, in NewResource) (Resource, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

// Invalidator is notified after any change that can alter resolved tiers.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service exposes catalog lookups and administrative edits.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, validate: validator.New(), logger: logger}
}

// ListEnabled returns enabled resources ordered by (category, display_order).
// Callers render in this order and must not re-sort.
func (s *Service) ListEnabled(ctx context.Context) ([]Resource, error) {
	return s.repo.ListEnabled(ctx)
}

// ListAll returns every resource including disabled ones.
func (s *Service) ListAll(ctx context.Context) ([]Resource, error) {
	return s.repo.ListAll(ctx)
}

// Get returns the resource or shared.ErrResourceNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Resource, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new resource.
func (s *Service) Create(ctx context.Context, in NewResource) (Resource, error) {
	in.Category = strings.TrimSpace(in.Category)
	in.PageName = strings.TrimSpace(in.PageName)
	in.URLPath = strings.TrimSpace(in.URLPath)
	in.ParentGroup = strings.TrimSpace(in.ParentGroup)
	if err := s.validate.Struct(in); err != nil {
		return Resource{}, fmt.Errorf("catalog: %w: %v", shared.ErrValidation, err)
	}
	if in.Level == LevelItem && in.ParentGroup == "" {
		return Resource{}, fmt.Errorf("catalog: %w: item requires parent_group", shared.ErrValidation)
	}
	res, err := s.repo.Create(ctx, in)
	if err != nil {
		return Resource{}, err
	}
	s.bump(ctx)
	return res, nil
}

// SetEnabled toggles the global kill switch for a resource.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	s.logger.Info("catalog resource toggled", slog.Int64("resource_id", id), slog.Bool("enabled", enabled))
	s.bump(ctx)
	return nil
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("catalog cache bump", slog.Any("error", err))
	}
}
