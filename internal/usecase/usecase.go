// Package usecase implements the business rules of the URL shortener:
// issuing unique short codes and driving the lifecycle of shortened URL records.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vadimbarashkov/short-url-service/internal/entity"
)

// ErrMaxRetriesExceeded is returned when no unused short code was found within the retry limit.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

// DefaultMaxRetries is the number of short code candidates tried before giving up.
const DefaultMaxRetries = 10

type urlRepository interface {
	Save(ctx context.Context, shortCode, originalURL string) (*entity.URL, error)
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error)
	RetrieveAndUpdateStats(ctx context.Context, shortCode string) (*entity.URL, error)
	Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, error)
	Remove(ctx context.Context, shortCode string) error
	List(ctx context.Context) ([]*entity.URL, error)
}

type codeGenerator interface {
	Generate() (string, error)
}

// Option configures a URLUseCase.
type Option func(*URLUseCase)

// WithMaxRetries sets the number of short code candidates tried by ShortenURL.
func WithMaxRetries(n int) Option {
	return func(uc *URLUseCase) {
		if n > 0 {
			uc.maxRetries = n
		}
	}
}

// WithLogger sets the logger used to report short code collisions.
func WithLogger(logger *slog.Logger) Option {
	return func(uc *URLUseCase) {
		if logger != nil {
			uc.logger = logger
		}
	}
}

// URLUseCase owns the uniqueness of short codes and all record transitions.
// It is safe for concurrent use as long as the underlying repository is.
type URLUseCase struct {
	urlRepo    urlRepository
	codeGen    codeGenerator
	maxRetries int
	logger     *slog.Logger
}

// NewURLUseCase creates a URLUseCase backed by the given repository and code generator.
func NewURLUseCase(urlRepo urlRepository, codeGen codeGenerator, opts ...Option) *URLUseCase {
	uc := &URLUseCase{
		urlRepo:    urlRepo,
		codeGen:    codeGen,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

func validateURL(originalURL string) error {
	if strings.TrimSpace(originalURL) == "" {
		return entity.ErrInvalidURL
	}
	return nil
}

// ShortenURL stores originalURL under a freshly generated, unused short code.
//
// Collisions reported by the repository are retried with a new candidate. The
// repository performs the existence check and the insert atomically, so two
// concurrent callers can never be handed the same code.
func (uc *URLUseCase) ShortenURL(ctx context.Context, originalURL string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.ShortenURL"

	if err := validateURL(originalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for i := 0; i < uc.maxRetries; i++ {
		shortCode, err := uc.codeGen.Generate()
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		url, err := uc.urlRepo.Save(ctx, shortCode, originalURL)
		if err != nil {
			if errors.Is(err, entity.ErrShortCodeExists) {
				uc.logger.WarnContext(ctx, "short code collision",
					slog.String("op", op),
					slog.String("short_code", shortCode),
					slog.Int("attempt", i+1),
				)
				continue
			}

			return nil, fmt.Errorf("%s: failed to shorten url: %w", op, err)
		}

		return url, nil
	}

	uc.logger.ErrorContext(ctx, "no unused short code found",
		slog.String("op", op),
		slog.Int("max_retries", uc.maxRetries),
	)

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// FindByShortCode looks up a URL without side effects.
// The boolean result is false when no URL has the given short code.
func (uc *URLUseCase) FindByShortCode(ctx context.Context, shortCode string) (*entity.URL, bool, error) {
	const op = "usecase.URLUseCase.FindByShortCode"

	url, err := uc.urlRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, entity.ErrURLNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%s: failed to find url: %w", op, err)
	}

	return url, true, nil
}

// ResolveShortCode returns the URL for shortCode and counts the access.
func (uc *URLUseCase) ResolveShortCode(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.ResolveShortCode"

	url, err := uc.urlRepo.RetrieveAndUpdateStats(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	return url, nil
}

// ModifyURL points shortCode at originalURL.
func (uc *URLUseCase) ModifyURL(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.ModifyURL"

	if err := validateURL(originalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	url, err := uc.urlRepo.Update(ctx, shortCode, originalURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to modify url: %w", op, err)
	}

	return url, nil
}

// DeactivateURL permanently removes the URL. Its short code may be issued again afterwards.
func (uc *URLUseCase) DeactivateURL(ctx context.Context, shortCode string) error {
	const op = "usecase.URLUseCase.DeactivateURL"

	if err := uc.urlRepo.Remove(ctx, shortCode); err != nil {
		return fmt.Errorf("%s: failed to deactivate url: %w", op, err)
	}

	return nil
}

// GetURLStats returns the URL with its statistics without counting an access.
func (uc *URLUseCase) GetURLStats(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.GetURLStats"

	url, err := uc.urlRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get url stats: %w", op, err)
	}

	return url, nil
}

// ListURLs returns every stored URL ordered by id. Listing does not count as an access.
func (uc *URLUseCase) ListURLs(ctx context.Context) ([]*entity.URL, error) {
	const op = "usecase.URLUseCase.ListURLs"

	urls, err := uc.urlRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list urls: %w", op, err)
	}

	return urls, nil
}
