package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/menuguard/internal/shared"
	"github.com/odyssey-erp/menuguard/internal/users"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context) ([]Role, error)
	ListByCodes(ctx context.Context, codes []string) ([]Role, error)
	Get(ctx context.Context, id int64) (Role, error)
	GetByCode(ctx context.Context, code string) (Role, error)
	Create(ctx context.Context, in NewRole) (Role, error)
	Rename(ctx context.Context, id int64, name string) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// Membership reads and edits a user's role set.
type Membership interface {
	Get(ctx context.Context, id int64) (users.Identity, error)
	AddRole(ctx context.Context, id int64, code string) error
	RemoveRole(ctx context.Context, id int64, code string) error
}

// Invalidator is notified after any change that can alter resolved tiers.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service handles role business logic.
type Service struct {
	repo        RepositoryPort
	members     Membership
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, members Membership, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, members: members, invalidator: invalidator, validate: validator.New(), logger: logger}
}

// List returns all roles.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Get returns a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// ListByCodes returns every known role among codes, including inactive ones.
func (s *Service) ListByCodes(ctx context.Context, codes []string) ([]Role, error) {
	return s.repo.ListByCodes(ctx, codes)
}

// KnownCodes returns the codes among codes that name an existing role.
func (s *Service) KnownCodes(ctx context.Context, codes []string) ([]string, error) {
	found, err := s.repo.ListByCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(found))
	for _, r := range found {
		out = append(out, r.Code)
	}
	return out, nil
}

// Assign adds code to the user's role set. Already-held codes are a no-op.
func (s *Service) Assign(ctx context.Context, userID int64, code string) error {
	code = users.NormalizeCode(code)
	if code == "" {
		return shared.ErrRoleNotFound
	}
	role, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.members.AddRole(ctx, userID, role.Code); err != nil {
		return err
	}
	s.logger.Info("role assigned", slog.Int64("user_id", userID), slog.String("role", role.Code))
	s.bump(ctx)
	return nil
}

// Unassign removes code from the user's role set. Codes not held are a no-op.
func (s *Service) Unassign(ctx context.Context, userID int64, code string) error {
	code = users.NormalizeCode(code)
	if err := s.members.RemoveRole(ctx, userID, code); err != nil {
		return err
	}
	s.logger.Info("role unassigned", slog.Int64("user_id", userID), slog.String("role", code))
	s.bump(ctx)
	return nil
}

// ActiveRolesOf returns the user's active roles ordered by display order.
func (s *Service) ActiveRolesOf(ctx context.Context, userID int64) ([]Role, error) {
	u, err := s.members.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	held, err := s.repo.ListByCodes(ctx, u.AssignedRoles.Codes())
	if err != nil {
		return nil, err
	}
	return Active(held), nil
}

// Create registers a new role.
func (s *Service) Create(ctx context.Context, in NewRole) (Role, error) {
	in.Code = users.NormalizeCode(in.Code)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.validate.Struct(in); err != nil {
		return Role{}, fmt.Errorf("roles: %w: %v", shared.ErrValidation, err)
	}
	return s.repo.Create(ctx, in)
}

// Rename changes the display name. System-protected roles are refused.
func (s *Service) Rename(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("roles: %w: display name required", shared.ErrValidation)
	}
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemProtected {
		return shared.ErrSystemProtected
	}
	return s.repo.Rename(ctx, id, name)
}

// SetActive includes or excludes the role from aggregation without touching its grants.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("role active changed", slog.Int64("role_id", id), slog.Bool("active", active))
	s.bump(ctx)
	return nil
}

// Delete removes a role. System-protected roles are refused.
func (s *Service) Delete(ctx context.Context, id int64) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemProtected {
		return shared.ErrSystemProtected
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.Int64("role_id", id), slog.String("role", role.Code))
	s.bump(ctx)
	return nil
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("roles cache bump", slog.Any("error", err))
	}
}
