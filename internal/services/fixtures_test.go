package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tgflix/internal/cache"
	"tgflix/internal/models"
	"tgflix/internal/repositories"
)

var testEpoch = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type accessFixture struct {
	svc      *AccessService
	clock    *clockwork.FakeClock
	users    *repositories.MemoryUserRepository
	bans     *repositories.MemoryBanRepository
	stats    *repositories.MemoryStatsRepository
	tickets  *repositories.MemoryTicketRepository
	settings *SettingsService

	mu       sync.Mutex
	expired  []int64
	bypasses []RedeemResult
}

func defaultTestSettings() RuntimeSettings {
	return RuntimeSettings{
		MinimumDuration: 30 * time.Second,
		DailyLimit:      10,
		TokenTimeout:    24 * time.Hour,
	}
}

func newAccessFixture(t *testing.T, rs RuntimeSettings, gateBase string) *accessFixture {
	t.Helper()
	f := &accessFixture{
		clock:   clockwork.NewFakeClockAt(testEpoch),
		users:   repositories.NewMemoryUserRepository(),
		bans:    repositories.NewMemoryBanRepository(),
		stats:   repositories.NewMemoryStatsRepository(),
		tickets: repositories.NewMemoryTicketRepository(time.Hour),
	}
	f.tickets.Now = f.clock.Now
	f.settings = NewSettingsService(repositories.NewMemorySettingsRepository(), rs, zap.NewNop())
	f.svc = NewAccessService(AccessDeps{
		Users:    f.users,
		Bans:     f.bans,
		Stats:    f.stats,
		Tickets:  f.tickets,
		Cache:    cache.NewUserCache(100, time.Hour),
		Settings: f.settings,
		Clock:    f.clock,
		Log:      zap.NewNop(),
		Shorten: func(_ context.Context, site, _, longURL string) string {
			if site == "" {
				return longURL
			}
			return "https://" + site + "/s/abc"
		},
		BotUsername: "tgflix_bot",
		GateBaseURL: gateBase,
		HashCost:    bcrypt.MinCost,
	})
	f.svc.SetHooks(AccessHooks{
		OnExpired: func(_ context.Context, id int64) {
			f.mu.Lock()
			f.expired = append(f.expired, id)
			f.mu.Unlock()
		},
		OnBypass: func(_ context.Context, _ int64, res RedeemResult) {
			f.mu.Lock()
			f.bypasses = append(f.bypasses, res)
			f.mu.Unlock()
		},
	})
	return f
}

// verify проводит пользователя через челлендж с честной паузой.
func (f *accessFixture) verify(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	ch, err := f.svc.IssueChallenge(ctx, id)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	f.clock.Advance(time.Minute)
	res, err := f.svc.RedeemToken(ctx, id, ch.Token)
	if err != nil {
		t.Fatalf("RedeemToken: %v", err)
	}
	if res.Outcome != RedeemVerified {
		t.Fatalf("исход = %s, ожидался verified", res.Outcome)
	}
}

func (f *accessFixture) storedUser(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := f.users.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("users.Get: %v", err)
	}
	if u == nil {
		t.Fatalf("пользователь %d не найден в хранилище", id)
	}
	return u
}

// fakeMessenger запоминает отправленное; sendErr/copyErr по очереди отдают ошибки.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []OutMessage
	copies  []copyCall
	deleted []int
	nextID  int

	sendErrs []error
	copyErrs map[int64][]error
}

type copyCall struct {
	To, From  int64
	MessageID int
	Opts      CopyOptions
}

func (m *fakeMessenger) Send(_ context.Context, msg OutMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	m.sent = append(m.sent, msg)
	m.nextID++
	return m.nextID, nil
}

func (m *fakeMessenger) Copy(_ context.Context, to, from int64, messageID int, opts CopyOptions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if errs := m.copyErrs[to]; len(errs) > 0 {
		err := errs[0]
		m.copyErrs[to] = errs[1:]
		if err != nil {
			return 0, err
		}
	}
	m.copies = append(m.copies, copyCall{To: to, From: from, MessageID: messageID, Opts: opts})
	m.nextID++
	return m.nextID, nil
}

func (m *fakeMessenger) Delete(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, messageID)
	return nil
}

func (m *fakeMessenger) sentMessages() []OutMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutMessage(nil), m.sent...)
}

// fakeSource отдаёт детерминированные байты: содержимое задаётся seed на файл.
type fakeSource struct {
	mu    sync.Mutex
	seeds map[string]byte
	// middle переопределяет seed для среднего чанка.
	middle map[string]byte
	calls  int
	fail   error
}

func (s *fakeSource) ReadRange(_ context.Context, item *models.MediaItem, offset, length int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	seed, ok := s.seeds[item.FileID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	total, mid, _ := chunkPlan(item.FileSize)
	if m, ok := s.middle[item.FileID]; ok && total > 2 && offset == mid*ChunkSize {
		seed = m
	}
	n := length
	if rest := item.FileSize - offset; rest < n {
		n = rest
	}
	if n < 0 {
		n = 0
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(offset/ChunkSize)
	}
	return out, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}
