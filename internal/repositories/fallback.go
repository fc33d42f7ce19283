package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tgflix/internal/models"
)

// FallbackUserRepository — упорядоченный список бэкендов, first-writable-wins:
// запись живёт там, где её нашли; новая запись уходит в первый бэкенд, принявший её.
type FallbackUserRepository struct {
	backends []UserRepository
	log      *zap.Logger
}

func NewFallbackUserRepository(log *zap.Logger, backends ...UserRepository) UserRepository {
	if len(backends) == 1 {
		return backends[0]
	}
	return &FallbackUserRepository{backends: backends, log: log}
}

// locate возвращает бэкенд, в котором есть запись id.
func (r *FallbackUserRepository) locate(ctx context.Context, id int64) (UserRepository, *models.User, error) {
	for _, b := range r.backends {
		u, err := b.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if u != nil {
			return b, u, nil
		}
	}
	return nil, nil, nil
}

func (r *FallbackUserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	_, u, err := r.locate(ctx, id)
	return u, err
}

func (r *FallbackUserRepository) Create(ctx context.Context, u *models.User) (bool, error) {
	if len(r.backends) == 0 {
		return false, ErrNoBackends
	}
	b, _, err := r.locate(ctx, u.ID)
	if err != nil {
		return false, err
	}
	if b != nil {
		return false, nil
	}
	var errs []error
	for i, b := range r.backends {
		created, err := b.Create(ctx, u)
		if err == nil {
			return created, nil
		}
		r.log.Warn("[store][fallback] user backend rejected write", zap.Int("backend", i), zap.Error(err))
		errs = append(errs, err)
	}
	return false, fmt.Errorf("all user backends rejected create: %w", errors.Join(errs...))
}

func (r *FallbackUserRepository) Save(ctx context.Context, u *models.User) error {
	if len(r.backends) == 0 {
		return ErrNoBackends
	}
	b, _, err := r.locate(ctx, u.ID)
	if err != nil {
		return err
	}
	if b != nil {
		return b.Save(ctx, u)
	}
	var errs []error
	for i, b := range r.backends {
		if err := b.Save(ctx, u); err == nil {
			return nil
		} else {
			r.log.Warn("[store][fallback] user backend rejected write", zap.Int("backend", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return fmt.Errorf("all user backends rejected save: %w", errors.Join(errs...))
}

func (r *FallbackUserRepository) Increment(ctx context.Context, id int64, field models.UserField, delta int) (int, error) {
	b, _, err := r.locate(ctx, id)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, ErrRecordNotFound
	}
	return b.Increment(ctx, id, field, delta)
}

func (r *FallbackUserRepository) Delete(ctx context.Context, id int64) error {
	for _, b := range r.backends {
		if err := b.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *FallbackUserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	for _, b := range r.backends {
		ids, err := b.ListIDs(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

func (r *FallbackUserRepository) Find(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	var out []*models.User
	for _, b := range r.backends {
		users, err := b.Find(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, users...)
		if f.Limit > 0 && len(out) >= f.Limit {
			return out[:f.Limit], nil
		}
	}
	return out, nil
}

func (r *FallbackUserRepository) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.BulkDelete(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *FallbackUserRepository) DeleteAll(ctx context.Context) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.DeleteAll(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *FallbackUserRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.Count(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// FallbackFingerprintRepository — та же стратегия для каталога отпечатков.
type FallbackFingerprintRepository struct {
	backends []FingerprintRepository
	log      *zap.Logger
}

func NewFallbackFingerprintRepository(log *zap.Logger, backends ...FingerprintRepository) FingerprintRepository {
	if len(backends) == 1 {
		return backends[0]
	}
	return &FallbackFingerprintRepository{backends: backends, log: log}
}

func (r *FallbackFingerprintRepository) FindMatch(ctx context.Context, q models.FingerprintQuery) (*models.Fingerprint, error) {
	for _, b := range r.backends {
		f, err := b.FindMatch(ctx, q)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

func (r *FallbackFingerprintRepository) FindByMessageID(ctx context.Context, messageID int) (*models.Fingerprint, error) {
	for _, b := range r.backends {
		f, err := b.FindByMessageID(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

func (r *FallbackFingerprintRepository) FindBy(ctx context.Context, field models.FingerprintField, value string) ([]*models.Fingerprint, error) {
	var out []*models.Fingerprint
	for _, b := range r.backends {
		items, err := b.FindBy(ctx, field, value)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *FallbackFingerprintRepository) Insert(ctx context.Context, f *models.Fingerprint) error {
	if len(r.backends) == 0 {
		return ErrNoBackends
	}
	var errs []error
	for i, b := range r.backends {
		if err := b.Insert(ctx, f); err == nil {
			return nil
		} else {
			r.log.Warn("[store][fallback] fingerprint backend rejected write", zap.Int("backend", i), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return fmt.Errorf("all fingerprint backends rejected insert: %w", errors.Join(errs...))
}

func (r *FallbackFingerprintRepository) DeleteBy(ctx context.Context, field models.FingerprintField, value string) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.DeleteBy(ctx, field, value)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *FallbackFingerprintRepository) DeleteAll(ctx context.Context) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.DeleteAll(ctx)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *FallbackFingerprintRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	for _, b := range r.backends {
		n, err := b.Count(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
