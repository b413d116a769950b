package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Identity, error)
	List(ctx context.Context) ([]Identity, error)
	Create(ctx context.Context, in NewIdentity) (Identity, error)
	SetStatus(ctx context.Context, id int64, status Status) error
	AddRole(ctx context.Context, id int64, code string) error
	RemoveRole(ctx context.Context, id int64, code string) error
}

// Invalidator is notified when account state changes resolved tiers.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// RoleLookup reports which of codes name an existing role.
type RoleLookup interface {
	KnownCodes(ctx context.Context, codes []string) ([]string, error)
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	roles       RoleLookup
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service instance. Without a RoleLookup users can only be
// created with no roles.
func NewService(repo RepositoryPort, roles RoleLookup, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, invalidator: invalidator, validate: validator.New(), logger: logger}
}

// Get returns the user or shared.ErrUserNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Identity, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]Identity, error) {
	return s.repo.List(ctx)
}

// Create registers an identity. Authentication is handled upstream.
func (s *Service) Create(ctx context.Context, in NewIdentity) (Identity, error) {
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Name = strings.TrimSpace(in.Name)
	in.Team = strings.TrimSpace(in.Team)
	if in.Status == "" {
		in.Status = StatusPending
	}
	if err := s.validate.Struct(in); err != nil {
		return Identity{}, fmt.Errorf("users: %w: %v", shared.ErrValidation, err)
	}
	in.Roles = NewRoleSet(in.Roles...).Codes()
	if err := s.checkRoles(ctx, in.Roles); err != nil {
		return Identity{}, err
	}
	return s.repo.Create(ctx, in)
}

// checkRoles rejects codes that name no role, so a role created later under
// the same code grants nothing retroactively.
func (s *Service) checkRoles(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	if s.roles == nil {
		return fmt.Errorf("users: create: %w: %s", shared.ErrRoleNotFound, strings.Join(codes, ","))
	}
	known, err := s.roles.KnownCodes(ctx, codes)
	if err != nil {
		return fmt.Errorf("users: create: %w", err)
	}
	found := NewRoleSet(known...)
	var missing []string
	for _, code := range codes {
		if !found.Contains(code) {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("users: create: %w: %s", shared.ErrRoleNotFound, strings.Join(missing, ","))
	}
	return nil
}

// SetStatus changes the account status.
func (s *Service) SetStatus(ctx context.Context, id int64, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.Info("user status changed", slog.Int64("user_id", id), slog.String("status", string(status)))
	if s.invalidator != nil {
		if err := s.invalidator.Bump(ctx); err != nil {
			s.logger.Warn("users cache bump", slog.Any("error", err))
		}
	}
	return nil
}
