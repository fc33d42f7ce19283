package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/models"
	"tgflix/internal/repositories"
)

// ChunkSize — размер одного сэмпла контента для хэширования.
const ChunkSize int64 = 1 << 20

// ContentSource читает байты файла из архивного канала.
type ContentSource interface {
	ReadRange(ctx context.Context, item *models.MediaItem, offset, length int64) ([]byte, error)
}

type MatchReason string

const (
	MatchUniqueID MatchReason = "unique_id"
	MatchCaption  MatchReason = "caption"
	MatchHash     MatchReason = "hash"
	MatchMetadata MatchReason = "metadata"
)

type DedupResult struct {
	Duplicate   bool
	Reason      MatchReason
	Existing    *models.Fingerprint
	Fingerprint *models.Fingerprint
	// HashFailed — хэши посчитать не удалось, элемент пропущен без них.
	HashFailed bool
	HashErr    error
}

type DedupOptions struct {
	ChunkDelay  time.Duration
	Attempts    int
	RetryBuffer time.Duration
}

type DedupService struct {
	repo   repositories.FingerprintRepository
	source ContentSource
	clock  clockwork.Clock
	log    *zap.Logger
	opts   DedupOptions
}

func NewDedupService(repo repositories.FingerprintRepository, source ContentSource, clock clockwork.Clock, opts DedupOptions, log *zap.Logger) *DedupService {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DedupService{repo: repo, source: source, clock: clock, log: log, opts: opts}
}

// chunkPlan: всего чанков, индекс среднего и последнего.
func chunkPlan(size int64) (total, middle, last int64) {
	total = (size + ChunkSize - 1) / ChunkSize
	if total < 1 {
		total = 1
	}
	return total, total / 2, total - 1
}

func reasonFor(q models.FingerprintQuery, f *models.Fingerprint) MatchReason {
	switch {
	case q.UniqueID != "" && f.UniqueID == q.UniqueID:
		return MatchUniqueID
	case q.Caption != "" && f.Caption == q.Caption:
		return MatchCaption
	case q.HashStart != "" && f.HashStart == q.HashStart:
		return MatchHash
	}
	return MatchMetadata
}

// Check проверяет элемент на дубликат и, если он новый, сохраняет отпечаток.
func (s *DedupService) Check(ctx context.Context, item *models.MediaItem) (*DedupResult, error) {
	pre := models.FingerprintQuery{
		UniqueID: item.UniqueID,
		Caption:  item.Caption,
		WithMeta: item.FileSize > 0,
		FileSize: item.FileSize,
		FileName: item.FileName,
		Duration: item.Duration,
	}
	existing, err := s.repo.FindMatch(ctx, pre)
	if err != nil {
		return nil, fmt.Errorf("fingerprint pre-check: %w", err)
	}
	if existing != nil {
		return &DedupResult{Duplicate: true, Reason: reasonFor(pre, existing), Existing: existing}, nil
	}

	fp := item.Fingerprint()
	res := &DedupResult{Fingerprint: fp}
	if item.Hashable() && s.source != nil {
		start, middle, end, err := s.hashContent(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("[dedup][hash] hashing failed, continuing without hashes",
				zap.Int("message_id", item.MessageID), zap.Error(err))
			res.HashFailed = true
			res.HashErr = err
		} else {
			fp.HashStart, fp.HashMiddle, fp.HashEnd = start, middle, end
			dup, err := s.confirmHash(ctx, fp)
			if err != nil {
				return nil, err
			}
			if dup != nil {
				return &DedupResult{Duplicate: true, Reason: MatchHash, Existing: dup}, nil
			}
		}
	}

	if err := s.repo.Insert(ctx, fp); err != nil {
		return nil, fmt.Errorf("insert fingerprint: %w", err)
	}
	return res, nil
}

// confirmHash: совпадение по начальному хэшу засчитывается, только если
// записанные средний и конечный хэши тоже совпадают.
func (s *DedupService) confirmHash(ctx context.Context, fp *models.Fingerprint) (*models.Fingerprint, error) {
	candidates, err := s.repo.FindBy(ctx, models.FPHashStart, fp.HashStart)
	if err != nil {
		return nil, fmt.Errorf("fingerprint hash lookup: %w", err)
	}
	for _, c := range candidates {
		if c.HashMiddle != "" && c.HashMiddle != fp.HashMiddle {
			continue
		}
		if c.HashEnd != "" && c.HashEnd != fp.HashEnd {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (s *DedupService) hashContent(ctx context.Context, item *models.MediaItem) (start, middle, end string, err error) {
	total, mid, last := chunkPlan(item.FileSize)
	if start, err = s.hashChunk(ctx, item, 0); err != nil {
		return "", "", "", err
	}
	if total <= 2 {
		return start, start, start, nil
	}
	if err = sleepCtx(ctx, s.clock, s.opts.ChunkDelay); err != nil {
		return "", "", "", err
	}
	if middle, err = s.hashChunk(ctx, item, mid); err != nil {
		return "", "", "", err
	}
	if err = sleepCtx(ctx, s.clock, s.opts.ChunkDelay); err != nil {
		return "", "", "", err
	}
	if end, err = s.hashChunk(ctx, item, last); err != nil {
		return "", "", "", err
	}
	return start, middle, end, nil
}

func (s *DedupService) hashChunk(ctx context.Context, item *models.MediaItem, index int64) (string, error) {
	var sum string
	err := retryOnFlood(ctx, s.clock, s.opts.Attempts, s.opts.RetryBuffer, func() error {
		data, err := s.source.ReadRange(ctx, item, index*ChunkSize, ChunkSize)
		if err != nil {
			return err
		}
		h := sha256.Sum256(data)
		sum = hex.EncodeToString(h[:])
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash chunk %d: %w", index, err)
	}
	return sum, nil
}

// exactFields — атрибуты, по которым удаление считается точным.
var exactFields = []models.FingerprintField{
	models.FPUniqueID, models.FPHashStart, models.FPHashMiddle, models.FPHashEnd,
}

// anyFields — порядок перебора для свободного аргумента.
var anyFields = []models.FingerprintField{
	models.FPUniqueID, models.FPHashStart, models.FPHashMiddle, models.FPHashEnd,
	models.FPFileName, models.FPCaption,
}

// RemoveExact удаляет записи по id или хэшу.
func (s *DedupService) RemoveExact(ctx context.Context, value string) (int64, error) {
	_, n, err := s.removeFirst(ctx, exactFields, value)
	return n, err
}

// RemoveAny удаляет все записи, разделяющие первый совпавший атрибут.
func (s *DedupService) RemoveAny(ctx context.Context, arg string) (models.FingerprintField, int64, error) {
	return s.removeFirst(ctx, anyFields, arg)
}

func (s *DedupService) removeFirst(ctx context.Context, fields []models.FingerprintField, value string) (models.FingerprintField, int64, error) {
	if value == "" {
		return "", 0, nil
	}
	for _, field := range fields {
		found, err := s.repo.FindBy(ctx, field, value)
		if err != nil {
			return "", 0, fmt.Errorf("find fingerprints by %s: %w", field, err)
		}
		if len(found) == 0 {
			continue
		}
		n, err := s.repo.DeleteBy(ctx, field, value)
		if err != nil {
			return field, 0, fmt.Errorf("delete fingerprints by %s: %w", field, err)
		}
		s.log.Info("[dedup][remove] fingerprints removed", zap.String("field", string(field)), zap.Int64("count", n))
		return field, n, nil
	}
	return "", 0, nil
}

// ByMessage — отпечаток для подписи при выдаче файла.
func (s *DedupService) ByMessage(ctx context.Context, messageID int) (*models.Fingerprint, error) {
	return s.repo.FindByMessageID(ctx, messageID)
}

// RemoveByMessage — удаление по ответу на сообщение архива.
func (s *DedupService) RemoveByMessage(ctx context.Context, messageID int) (int64, error) {
	f, err := s.repo.FindByMessageID(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("find fingerprint by message: %w", err)
	}
	if f == nil {
		return 0, nil
	}
	return s.repo.DeleteBy(ctx, models.FPUniqueID, f.UniqueID)
}

func (s *DedupService) Purge(ctx context.Context) (int64, error) {
	return s.repo.DeleteAll(ctx)
}

func (s *DedupService) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx)
}
