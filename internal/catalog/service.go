package catalog

import (
	"context"
	"fmt"

	"github.com/Taro112233/Thoen-Substock-sub000/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Drug, error)
	List(ctx context.Context, limit, offset int, search string) ([]Drug, int, error)
	Create(ctx context.Context, d Drug) (Drug, error)
	Update(ctx context.Context, d Drug) error
}

// Service answers drug lookups, caching resolves in Redis.
type Service struct {
	repo  RepositoryPort
	cache *Cache
}

// NewService constructs the catalog service.
func NewService(repo RepositoryPort, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Resolve returns an active drug by ID. Inactive and unknown drugs resolve
// to ErrNotFound so document services reject them uniformly.
func (s *Service) Resolve(ctx context.Context, id int64) (Drug, error) {
	var d Drug
	err := s.cache.FetchJSON(ctx, drugKey(id), &d, func(ctx context.Context) (interface{}, error) {
		return s.repo.Get(ctx, id)
	})
	if err != nil {
		return Drug{}, err
	}
	if !d.IsActive {
		return Drug{}, fmt.Errorf("%w: drug %d is inactive", shared.ErrNotFound, id)
	}
	return d, nil
}

// List returns a catalog page.
func (s *Service) List(ctx context.Context, limit, offset int, search string) ([]Drug, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset, search)
}

// Create validates and inserts a drug.
func (s *Service) Create(ctx context.Context, d Drug) (Drug, error) {
	if d.Code == "" || d.Name == "" || d.Unit == "" {
		return Drug{}, fmt.Errorf("%w: code, name and unit required", shared.ErrValidation)
	}
	if d.DefaultPrice < 0 {
		return Drug{}, fmt.Errorf("%w: default price cannot be negative", shared.ErrValidation)
	}
	d.IsActive = true
	return s.repo.Create(ctx, d)
}

// Update rewrites a drug and drops the cached entry.
func (s *Service) Update(ctx context.Context, d Drug) error {
	if d.ID == 0 {
		return fmt.Errorf("%w: id required", shared.ErrValidation)
	}
	if d.Name == "" || d.Unit == "" {
		return fmt.Errorf("%w: name and unit required", shared.ErrValidation)
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, d.ID)
}
