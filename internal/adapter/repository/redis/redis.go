// Package redis stores shortened URLs as Redis hashes.
//
// Each URL lives under "{url}:<short code>" and is indexed by id in a sorted set.
// Every mutation runs as a Lua script, so the existence check and the write
// happen atomically on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vadimbarashkov/short-url-service/internal/entity"
)

// All keys share the {url} hash tag so multi-key scripts stay in one cluster slot.
const (
	keyPrefix = "{url}:"
	seqKey    = "{url}:id:seq"
	indexKey  = "{url}:index"
)

const (
	fieldID          = "id"
	fieldShortCode   = "short_code"
	fieldOriginalURL = "original_url"
	fieldAccessCount = "access_count"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
)

// timeLayout has a fixed width, so stored timestamps order correctly as strings inside scripts.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var saveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return false
end
local id = redis.call('INCR', KEYS[2])
redis.call('HSET', KEYS[1],
	'id', id,
	'short_code', ARGV[1],
	'original_url', ARGV[2],
	'access_count', 0,
	'created_at', ARGV[3],
	'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], id, ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var resolveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HINCRBY', KEYS[1], 'access_count', 1)
return redis.call('HGETALL', KEYS[1])
`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
local updated = ARGV[2]
local created = redis.call('HGET', KEYS[1], 'created_at')
if created and updated < created then
	updated = created
end
redis.call('HSET', KEYS[1], 'original_url', ARGV[1], 'updated_at', updated)
return redis.call('HGETALL', KEYS[1])
`)

var removeScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

func urlKey(shortCode string) string {
	return keyPrefix + shortCode
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseURL(fields map[string]string) (*entity.URL, error) {
	id, err := strconv.ParseInt(fields[fieldID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", fieldID, err)
	}
	accessCount, err := strconv.ParseInt(fields[fieldAccessCount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", fieldAccessCount, err)
	}
	createdAt, err := time.Parse(timeLayout, fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", fieldCreatedAt, err)
	}
	updatedAt, err := time.Parse(timeLayout, fields[fieldUpdatedAt])
	if err != nil {
		return nil, fmt.Errorf("invalid %s field: %w", fieldUpdatedAt, err)
	}

	return &entity.URL{
		ID:          id,
		ShortCode:   fields[fieldShortCode],
		OriginalURL: fields[fieldOriginalURL],
		URLStats: entity.URLStats{
			AccessCount: accessCount,
		},
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// pairsToMap converts a flat HGETALL reply returned from a script into a map.
func pairsToMap(vals []any) map[string]string {
	fields := make(map[string]string, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		k, _ := vals[i].(string)
		v, _ := vals[i+1].(string)
		fields[k] = v
	}
	return fields
}

// URLRepository keeps URLs in Redis.
type URLRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewURLRepository(client redis.UniversalClient) *URLRepository {
	return &URLRepository{
		client: client,
		now:    time.Now,
	}
}

func (r *URLRepository) runScript(ctx context.Context, script *redis.Script, shortCode string, keys []string, args ...any) (*entity.URL, bool, error) {
	vals, err := script.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	url, err := parseURL(pairsToMap(vals))
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse hash %q: %w", urlKey(shortCode), err)
	}

	return url, true, nil
}

func (r *URLRepository) Save(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.redis.URLRepository.Save"

	keys := []string{urlKey(shortCode), seqKey, indexKey}

	url, ok, err := r.runScript(ctx, saveScript, shortCode, keys, shortCode, originalURL, formatTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to save url hash: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
	}

	return url, nil
}

func (r *URLRepository) RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.redis.URLRepository.RetrieveByShortCode"

	fields, err := r.client.HGetAll(ctx, urlKey(shortCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get url hash: %w", op, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	url, err := parseURL(fields)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse url hash: %w", op, err)
	}

	return url, nil
}

func (r *URLRepository) RetrieveAndUpdateStats(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.redis.URLRepository.RetrieveAndUpdateStats"

	url, ok, err := r.runScript(ctx, resolveScript, shortCode, []string{urlKey(shortCode)})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to increment access count: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return url, nil
}

func (r *URLRepository) Update(ctx context.Context, shortCode, originalURL string) (*entity.URL, error) {
	const op = "adapter.repository.redis.URLRepository.Update"

	url, ok, err := r.runScript(ctx, updateScript, shortCode, []string{urlKey(shortCode)}, originalURL, formatTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to update url hash: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return url, nil
}

func (r *URLRepository) Remove(ctx context.Context, shortCode string) error {
	const op = "adapter.repository.redis.URLRepository.Remove"

	n, err := removeScript.Run(ctx, r.client, []string{urlKey(shortCode), indexKey}, shortCode).Int()
	if err != nil {
		return fmt.Errorf("%s: failed to delete url hash: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return nil
}

// List returns every stored URL ordered by id.
func (r *URLRepository) List(ctx context.Context) ([]*entity.URL, error) {
	const op = "adapter.repository.redis.URLRepository.List"

	codes, err := r.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read url index: %w", op, err)
	}
	if len(codes) == 0 {
		return []*entity.URL{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(codes))
	if _, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, code := range codes {
			cmds[i] = pipe.HGetAll(ctx, urlKey(code))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%s: failed to get url hashes: %w", op, err)
	}

	urls := make([]*entity.URL, 0, len(codes))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		url, err := parseURL(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to parse hash %q: %w", op, urlKey(codes[i]), err)
		}
		urls = append(urls, url)
	}

	return urls, nil
}
