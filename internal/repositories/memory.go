package repositories

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"tgflix/internal/models"
)

// In-memory реализации всех репозиториев: тесты и storage.driver=memory.

type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[int64]*models.User
	// ReadOnly имитирует переполненный бэкенд для fallback-стратегии.
	ReadOnly bool
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]*models.User)}
}

func (m *MemoryUserRepository) Get(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[id].Clone(), nil
}

func (m *MemoryUserRepository) Create(_ context.Context, u *models.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadOnly {
		return false, errReadOnly
	}
	if _, ok := m.users[u.ID]; ok {
		return false, nil
	}
	if u.Status == "" {
		u.Status = models.UserUnverified
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u.Clone()
	return true, nil
}

func (m *MemoryUserRepository) Save(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadOnly {
		return errReadOnly
	}
	c := u.Clone()
	if prev, ok := m.users[u.ID]; ok && c.CreatedAt.IsZero() {
		c.CreatedAt = prev.CreatedAt
	}
	c.UpdatedAt = time.Now()
	m.users[u.ID] = c
	return nil
}

func (m *MemoryUserRepository) Increment(_ context.Context, id int64, field models.UserField, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, ErrRecordNotFound
	}
	switch field {
	case models.FieldFileCount:
		u.FileCount += delta
		return u.FileCount, nil
	case models.FieldBypassAttempts:
		u.BypassAttempts += delta
		return u.BypassAttempts, nil
	}
	_, err := userFieldColumn(field)
	return 0, err
}

func (m *MemoryUserRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *MemoryUserRepository) ListIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryUserRepository) Find(_ context.Context, f models.UserFilter) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.User
	for _, u := range m.users {
		if f.Status != nil && u.Status != *f.Status {
			continue
		}
		if f.VerifiedBefore != nil && (u.VerifiedAt.IsZero() || !u.VerifiedAt.Before(*f.VerifiedBefore)) {
			continue
		}
		if f.ActiveBefore != nil && !u.LastActivity().Before(*f.ActiveBefore) {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryUserRepository) BulkDelete(_ context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.users[id]; ok {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryUserRepository) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.users))
	m.users = make(map[int64]*models.User)
	return n, nil
}

func (m *MemoryUserRepository) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

type MemoryBanRepository struct {
	mu   sync.RWMutex
	bans map[int64]models.Ban
}

func NewMemoryBanRepository() *MemoryBanRepository {
	return &MemoryBanRepository{bans: make(map[int64]models.Ban)}
}

func (m *MemoryBanRepository) Set(_ context.Context, b *models.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.bans[b.UserID] = c
	return nil
}

func (m *MemoryBanRepository) Get(_ context.Context, userID int64) (*models.Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bans[userID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryBanRepository) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, userID)
	return nil
}

type MemoryStatsRepository struct {
	mu    sync.Mutex
	stats models.DailyStats
}

func NewMemoryStatsRepository() *MemoryStatsRepository {
	return &MemoryStatsRepository{}
}

func (m *MemoryStatsRepository) Get(_ context.Context) (*models.DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	return &s, nil
}

func (m *MemoryStatsRepository) Increment(_ context.Context, counter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch counter {
	case models.CounterVerifiedToday:
		m.stats.VerifiedToday++
	case models.CounterFilesSharedToday:
		m.stats.FilesSharedToday++
	default:
		_, err := statsColumn(counter)
		return err
	}
	return nil
}

func (m *MemoryStatsRepository) Decrement(_ context.Context, counter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch counter {
	case models.CounterVerifiedToday:
		if m.stats.VerifiedToday > 0 {
			m.stats.VerifiedToday--
		}
	case models.CounterFilesSharedToday:
		if m.stats.FilesSharedToday > 0 {
			m.stats.FilesSharedToday--
		}
	default:
		_, err := statsColumn(counter)
		return err
	}
	return nil
}

func (m *MemoryStatsRepository) ResetIfStale(_ context.Context, date string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats.LastResetDate == date {
		return false, nil
	}
	m.stats = models.DailyStats{LastResetDate: date}
	return true, nil
}

type MemorySettingsRepository struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{values: make(map[string]string)}
}

func (m *MemorySettingsRepository) All(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemorySettingsRepository) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type MemoryTicketRepository struct {
	mu      sync.Mutex
	tickets map[string]models.Ticket
	ttl     time.Duration
	Now     func() time.Time
}

func NewMemoryTicketRepository(ttl time.Duration) *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]models.Ticket), ttl: ttl, Now: time.Now}
}

func (m *MemoryTicketRepository) Create(_ context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.Now()
	}
	m.tickets[t.ID] = *t
	return nil
}

func (m *MemoryTicketRepository) Get(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.Expired(m.ttl, m.Now()) {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryTicketRepository) Consume(_ context.Context, id string) (*models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, nil
	}
	delete(m.tickets, id)
	if t.Expired(m.ttl, m.Now()) {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryTicketRepository) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tickets {
		if t.CreatedAt.Before(before) {
			delete(m.tickets, id)
			n++
		}
	}
	return n, nil
}

type MemoryFingerprintRepository struct {
	mu    sync.RWMutex
	items []*models.Fingerprint
	// ReadOnly имитирует переполненный бэкенд.
	ReadOnly bool
}

func NewMemoryFingerprintRepository() *MemoryFingerprintRepository {
	return &MemoryFingerprintRepository{}
}

func (m *MemoryFingerprintRepository) FindMatch(_ context.Context, q models.FingerprintQuery) (*models.Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.items {
		if q.Matches(f) {
			c := *f
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryFingerprintRepository) FindByMessageID(_ context.Context, messageID int) (*models.Fingerprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.items {
		if f.MessageID == messageID {
			c := *f
			return &c, nil
		}
	}
	return nil, nil
}

func fieldValue(f *models.Fingerprint, field models.FingerprintField) string {
	if field == models.FPFileSize {
		return strconv.FormatInt(f.FileSize, 10)
	}
	return f.Field(field)
}

func (m *MemoryFingerprintRepository) FindBy(_ context.Context, field models.FingerprintField, value string) ([]*models.Fingerprint, error) {
	if _, err := fingerprintColumn(field); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Fingerprint
	for _, f := range m.items {
		if fieldValue(f, field) == value {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryFingerprintRepository) Insert(_ context.Context, f *models.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadOnly {
		return errReadOnly
	}
	for _, it := range m.items {
		if it.UniqueID == f.UniqueID {
			return nil
		}
	}
	c := *f
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.items = append(m.items, &c)
	return nil
}

func (m *MemoryFingerprintRepository) DeleteBy(_ context.Context, field models.FingerprintField, value string) (int64, error) {
	if _, err := fingerprintColumn(field); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var n int64
	for _, f := range m.items {
		if fieldValue(f, field) == value {
			n++
			continue
		}
		kept = append(kept, f)
	}
	m.items = kept
	return n, nil
}

func (m *MemoryFingerprintRepository) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.items))
	m.items = nil
	return n, nil
}

func (m *MemoryFingerprintRepository) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.items)), nil
}
