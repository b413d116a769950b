package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Reader adalah kontrak baca audit_entries yang dibutuhkan Service.
type Reader interface {
	History(ctx context.Context, resourceTag, recordID string, limit, offset int) ([]Entry, error)
	ByActor(ctx context.Context, filter ActorFilter, limit, offset int) ([]Entry, error)
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Entries []Entry           `json:"entries"`
	Paging  shared.PagingInfo `json:"paging"`
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Reader
}

// NewService membuat service audit baru.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// History mengambil riwayat satu record dengan paging.
func (s *Service) History(ctx context.Context, resourceTag, recordID string, page shared.Page) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	resourceTag, recordID = strings.TrimSpace(resourceTag), strings.TrimSpace(recordID)
	if resourceTag == "" || recordID == "" {
		return Result{}, fmt.Errorf("%w: resource and record are required", shared.ErrValidation)
	}
	page = shared.NewPage(page.Number, page.Size)
	rows, err := s.repo.History(ctx, resourceTag, recordID, page.Limit(), page.Offset())
	if err != nil {
		return Result{}, err
	}
	return pageResult(rows, page), nil
}

// ByActor mengambil timeline seorang aktor dengan paging.
func (s *Service) ByActor(ctx context.Context, filter ActorFilter, page shared.Page) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := validateFilter(filter); err != nil {
		return Result{}, err
	}
	page = shared.NewPage(page.Number, page.Size)
	rows, err := s.repo.ByActor(ctx, filter, page.Limit(), page.Offset())
	if err != nil {
		return Result{}, err
	}
	return pageResult(rows, page), nil
}

// Export mengambil seluruh timeline aktor tanpa paging.
func (s *Service) Export(ctx context.Context, filter ActorFilter) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.repo.ByActor(ctx, filter, 0, 0)
}

func validateFilter(filter ActorFilter) error {
	if filter.ActorID <= 0 {
		return fmt.Errorf("%w: actor is required", shared.ErrValidation)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return fmt.Errorf("%w: from is after to", shared.ErrValidation)
	}
	return nil
}

func pageResult(rows []Entry, page shared.Page) Result {
	info := page.Info(len(rows))
	if info.HasNext {
		rows = rows[:page.Size]
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Entries: rows, Paging: info}
}
