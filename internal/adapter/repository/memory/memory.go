// Package memory provides an in-process URL repository.
// It keeps no state across restarts and is meant for local runs and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vadimbarashkov/short-url-service/internal/entity"
)

// URLRepository stores URLs in a map keyed by short code.
// A single lock covers every check-and-mutate sequence.
type URLRepository struct {
	mu     sync.RWMutex
	urls   map[string]*entity.URL
	lastID int64
	now    func() time.Time
}

func NewURLRepository() *URLRepository {
	return &URLRepository{
		urls: make(map[string]*entity.URL),
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (r *URLRepository) Save(_ context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.Save"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.urls[shortCode]; ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
	}

	r.lastID++
	now := r.now()

	url := &entity.URL{
		ID:          r.lastID,
		ShortCode:   shortCode,
		OriginalURL: originalURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.urls[shortCode] = url

	cp := *url
	return &cp, nil
}

func (r *URLRepository) RetrieveByShortCode(_ context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.RetrieveByShortCode"

	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.urls[shortCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	cp := *url
	return &cp, nil
}

func (r *URLRepository) RetrieveAndUpdateStats(_ context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.RetrieveAndUpdateStats"

	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.urls[shortCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	url.AccessCount++

	cp := *url
	return &cp, nil
}

func (r *URLRepository) Update(_ context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.Update"

	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.urls[shortCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	url.OriginalURL = originalURL
	url.UpdatedAt = r.now()
	if url.UpdatedAt.Before(url.CreatedAt) {
		url.UpdatedAt = url.CreatedAt
	}

	cp := *url
	return &cp, nil
}

func (r *URLRepository) Remove(_ context.Context, shortCode string) error {
	const op = "adapter.repository.memory.URLRepository.Remove"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.urls[shortCode]; !ok {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	delete(r.urls, shortCode)

	return nil
}

// List returns copies of every stored URL ordered by id.
func (r *URLRepository) List(_ context.Context) ([]*entity.URL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := make([]*entity.URL, 0, len(r.urls))
	for _, url := range r.urls {
		cp := *url
		urls = append(urls, &cp)
	}

	slices.SortFunc(urls, func(a, b *entity.URL) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return urls, nil
}

// Close releases nothing; it exists so the repository can be managed like the other stores.
func (r *URLRepository) Close() error {
	return nil
}
