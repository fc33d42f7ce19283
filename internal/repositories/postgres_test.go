package repositories

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"tgflix/internal/database"
	"tgflix/internal/models"
)

// setupTestDB поднимает PostgreSQL в контейнере и применяет встроенные миграции.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() || os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("интеграционный тест: нужен Docker и TEST_INTEGRATION=1")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("tgflix_test"),
		postgres.WithUsername("tgflix"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("не удалось запустить PostgreSQL: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("остановка контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("строка подключения: %v", err)
	}
	if err := database.Migrate(dsn, zap.NewNop()); err != nil {
		t.Fatalf("миграции: %v", err)
	}
	db, err := database.Connect(ctx, dsn, database.PoolOptions{MaxOpen: 4})
	if err != nil {
		t.Fatalf("подключение: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db)

	created, err := repo.Create(ctx, &models.User{ID: 1})
	if err != nil || !created {
		t.Fatalf("Create: %v %v", created, err)
	}
	if again, _ := repo.Create(ctx, &models.User{ID: 1}); again {
		t.Error("повторный Create не должен создавать запись")
	}

	verifiedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := repo.Save(ctx, &models.User{
		ID:                2,
		Status:            models.UserVerified,
		VerifiedAt:        verifiedAt,
		LowQuotaWarned:    true,
		TargetChannelID:   -1005,
		TargetChannelName: "My Channel",
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	u, err := repo.Get(ctx, 2)
	if err != nil || u == nil {
		t.Fatalf("Get: %v %v", u, err)
	}
	if !u.VerifiedAt.Equal(verifiedAt) || !u.IssuedAt.IsZero() || !u.LowQuotaWarned || u.TargetChannelName != "My Channel" {
		t.Errorf("запись после Save: %+v", u)
	}
	if missing, err := repo.Get(ctx, 404); err != nil || missing != nil {
		t.Errorf("Get неизвестного: %v %v", missing, err)
	}

	n, err := repo.Increment(ctx, 2, models.FieldFileCount, 1)
	if err != nil || n != 1 {
		t.Fatalf("Increment: %d %v", n, err)
	}
	if _, err := repo.Increment(ctx, 404, models.FieldFileCount, 1); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Increment неизвестного: %v", err)
	}

	status := models.UserVerified
	before := verifiedAt.Add(time.Hour)
	found, err := repo.Find(ctx, models.UserFilter{Status: &status, VerifiedBefore: &before})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != 2 {
		t.Errorf("Find: %+v", found)
	}

	removed, err := repo.BulkDelete(ctx, []int64{1, 2, 999})
	if err != nil || removed != 2 {
		t.Errorf("BulkDelete: %d %v", removed, err)
	}
	if c, _ := repo.Count(ctx); c != 0 {
		t.Errorf("после удаления осталось %d", c)
	}
}

func TestPostgresStats_ResetIfStale(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewStatsRepository(db)

	reset, err := repo.ResetIfStale(ctx, "2025-03-10")
	if err != nil || !reset {
		t.Fatalf("первый сброс: %v %v", reset, err)
	}
	_ = repo.Increment(ctx, models.CounterFilesSharedToday)
	_ = repo.Increment(ctx, models.CounterFilesSharedToday)
	_ = repo.Increment(ctx, models.CounterVerifiedToday)

	if reset, _ := repo.ResetIfStale(ctx, "2025-03-10"); reset {
		t.Error("повторный сброс за ту же дату должен быть пустым")
	}
	s, _ := repo.Get(ctx)
	if s.FilesSharedToday != 2 || s.VerifiedToday != 1 {
		t.Errorf("счётчики после повторного сброса: %+v", s)
	}

	for i := 0; i < 3; i++ {
		if err := repo.Decrement(ctx, models.CounterFilesSharedToday); err != nil {
			t.Fatal(err)
		}
	}
	if s, _ := repo.Get(ctx); s.FilesSharedToday != 0 {
		t.Errorf("Decrement ушёл ниже нуля: %d", s.FilesSharedToday)
	}
	if err := repo.Increment(ctx, "drop table"); err == nil {
		t.Error("неизвестный счётчик должен отвергаться")
	}

	if reset, _ := repo.ResetIfStale(ctx, "2025-03-11"); !reset {
		t.Error("новая дата должна сбросить счётчики")
	}
	if s, _ := repo.Get(ctx); s.VerifiedToday != 0 || s.LastResetDate != "2025-03-11" {
		t.Errorf("после смены даты: %+v", s)
	}
}

func TestPostgresTickets_ConsumeOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &ticketRepository{DB: db, TTL: time.Hour, now: func() time.Time { return now }}

	if err := repo.Create(ctx, &models.Ticket{ID: "t1", OwnerUserID: 42, Kind: models.TicketToken, RedirectURL: "https://sho.rt/x"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, &models.Ticket{ID: "old", OwnerUserID: 43, Kind: models.TicketExtension,
		RedirectURL: "https://sho.rt/y", CreatedAt: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil || got == nil || got.OwnerUserID != 42 || got.Kind != models.TicketToken {
		t.Fatalf("Get: %+v %v", got, err)
	}
	first, err := repo.Consume(ctx, "t1")
	if err != nil || first == nil || first.RedirectURL != "https://sho.rt/x" {
		t.Fatalf("Consume: %+v %v", first, err)
	}
	if second, err := repo.Consume(ctx, "t1"); err != nil || second != nil {
		t.Errorf("тикет одноразовый: %+v %v", second, err)
	}
	if stale, _ := repo.Get(ctx, "old"); stale != nil {
		t.Error("тикет старше TTL не должен находиться")
	}

	n, err := repo.Purge(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Errorf("Purge: %d %v", n, err)
	}
}

func TestPostgresFingerprints(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewFingerprintRepository(db)

	a := &models.Fingerprint{UniqueID: "u1", MessageID: 1, Caption: "Dune", FileSize: 100, FileName: "dune.mkv", Duration: 60}
	b := &models.Fingerprint{UniqueID: "u2", MessageID: 2, HashStart: "h2", HashMiddle: "m2", HashEnd: "e2"}
	for _, f := range []*models.Fingerprint{a, b} {
		if err := repo.Insert(ctx, f); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Insert(ctx, &models.Fingerprint{UniqueID: "u1", MessageID: 99}); err != nil {
		t.Errorf("повтор unique_id не ошибка: %v", err)
	}

	cases := []struct {
		name string
		q    models.FingerprintQuery
		want string
	}{
		{"подпись через OR", models.FingerprintQuery{UniqueID: "zz", Caption: "Dune"}, "u1"},
		{"хэш начала", models.FingerprintQuery{HashStart: "h2"}, "u2"},
		{"метаданные вместе", models.FingerprintQuery{WithMeta: true, FileSize: 100, FileName: "dune.mkv", Duration: 60}, "u1"},
		{"метаданные частично", models.FingerprintQuery{WithMeta: true, FileSize: 100, FileName: "other.mkv", Duration: 60}, ""},
		{"пустой запрос", models.FingerprintQuery{}, ""},
	}
	for _, tc := range cases {
		got, err := repo.FindMatch(ctx, tc.q)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		switch {
		case tc.want == "" && got != nil:
			t.Errorf("%s: лишнее совпадение %+v", tc.name, got)
		case tc.want != "" && (got == nil || got.UniqueID != tc.want):
			t.Errorf("%s: %+v, ожидался %s", tc.name, got, tc.want)
		}
	}

	if byMsg, _ := repo.FindByMessageID(ctx, 1); byMsg == nil || byMsg.UniqueID != "u1" {
		t.Errorf("FindByMessageID: %+v", byMsg)
	}
	if bySize, _ := repo.FindBy(ctx, models.FPFileSize, "100"); len(bySize) != 1 {
		t.Errorf("FindBy file_size: %d", len(bySize))
	}
	if n, _ := repo.DeleteBy(ctx, models.FPCaption, "Dune"); n != 1 {
		t.Errorf("DeleteBy caption: %d", n)
	}
	if _, err := repo.DeleteBy(ctx, models.FingerprintField("message_id; --"), "1"); err == nil {
		t.Error("неизвестное поле должно отвергаться")
	}
	if n, _ := repo.DeleteAll(ctx); n != 1 {
		t.Errorf("DeleteAll: %d", n)
	}
}

func TestPostgresBansAndSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bans := NewBanRepository(db)
	until := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)

	if err := bans.Set(ctx, &models.Ban{UserID: 5, BannedUntil: until, Reason: "bypass"}); err != nil {
		t.Fatal(err)
	}
	if err := bans.Set(ctx, &models.Ban{UserID: 5, BannedUntil: until.Add(time.Hour), Reason: "admin"}); err != nil {
		t.Fatal(err)
	}
	b, err := bans.Get(ctx, 5)
	if err != nil || b == nil || b.Reason != "admin" || !b.BannedUntil.Equal(until.Add(time.Hour)) {
		t.Fatalf("бан после повторного Set: %+v %v", b, err)
	}
	if err := bans.Delete(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if b, _ := bans.Get(ctx, 5); b != nil {
		t.Error("бан должен быть снят")
	}

	settings := NewSettingsRepository(db)
	_ = settings.Set(ctx, "daily_limit", "10")
	_ = settings.Set(ctx, "daily_limit", "25")
	all, err := settings.All(ctx)
	if err != nil || all["daily_limit"] != "25" || len(all) != 1 {
		t.Errorf("настройки: %v %v", all, err)
	}
}
