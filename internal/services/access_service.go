package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/cache"
	"tgflix/internal/metrics"
	"tgflix/internal/models"
	"tgflix/internal/repositories"
	"tgflix/internal/utils"
)

// ShortenFunc сокращает ссылку через указанный сайт; при ошибке возвращает исходную.
type ShortenFunc func(ctx context.Context, site, apiToken, longURL string) string

type Challenge struct {
	Kind     models.TicketKind
	Token    string
	DeepLink string
	ShortURL string
	TicketID string
	// GateURL — то, что видит пользователь: страница гейта, либо короткая ссылка без гейта.
	GateURL string
}

type RedeemOutcome int

const (
	RedeemVerified RedeemOutcome = iota
	RedeemExtended
	RedeemAlreadyVerified
	RedeemMismatch
	RedeemBypassWarning
	RedeemBypassBanned
	RedeemBanned
)

func (o RedeemOutcome) String() string {
	switch o {
	case RedeemVerified:
		return "verified"
	case RedeemExtended:
		return "extended"
	case RedeemAlreadyVerified:
		return "already_verified"
	case RedeemMismatch:
		return "mismatch"
	case RedeemBypassWarning:
		return "bypass_warning"
	case RedeemBypassBanned:
		return "bypass_banned"
	case RedeemBanned:
		return "banned"
	}
	return "unknown"
}

type RedeemResult struct {
	Outcome     RedeemOutcome
	Message     string
	Attempts    int
	Elapsed     time.Duration
	BanFor      time.Duration
	BannedUntil time.Time
	ExpiresAt   time.Time
	Stage       int
}

type DecisionKind int

const (
	Granted DecisionKind = iota
	NeedsChallenge
	QuotaExceeded
	Denied
)

type ChallengeReason string

const (
	ReasonNewUser    ChallengeReason = "new_user"
	ReasonUnverified ChallengeReason = "unverified"
	ReasonExpired    ChallengeReason = "expired"
)

type Decision struct {
	Kind           DecisionKind
	Reason         ChallengeReason
	CanExtend      bool
	ExtensionStage int
	FileCount      int
	DailyLimit     int
	ExpiresAt      time.Time
	BannedUntil    time.Time
}

type Delivery struct {
	FileCount int
	Remaining int
	LowQuota  bool
}

// AccessHooks — события движка. Вызываются вне пользовательской блокировки.
type AccessHooks struct {
	OnExpired func(ctx context.Context, userID int64)
	OnBypass  func(ctx context.Context, userID int64, res RedeemResult)
}

type AccessDeps struct {
	Users       repositories.UserRepository
	Bans        repositories.BanRepository
	Stats       repositories.StatsRepository
	Tickets     repositories.TicketRepository
	Cache       cache.UserCache
	Settings    *SettingsService
	Clock       clockwork.Clock
	Log         *zap.Logger
	Shorten     ShortenFunc
	BotUsername string
	GateBaseURL string
	HashCost    int
	Location    *time.Location
}

type AccessService struct {
	users       repositories.UserRepository
	bans        repositories.BanRepository
	stats       repositories.StatsRepository
	tickets     repositories.TicketRepository
	cache       cache.UserCache
	settings    *SettingsService
	clock       clockwork.Clock
	log         *zap.Logger
	shorten     ShortenFunc
	botUsername string
	gateBaseURL string
	hashCost    int
	loc         *time.Location
	locks       userLocks
	hooks       AccessHooks
}

func NewAccessService(d AccessDeps) *AccessService {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Shorten == nil {
		d.Shorten = func(_ context.Context, _, _, longURL string) string { return longURL }
	}
	return &AccessService{
		users:       d.Users,
		bans:        d.Bans,
		stats:       d.Stats,
		tickets:     d.Tickets,
		cache:       d.Cache,
		settings:    d.Settings,
		clock:       d.Clock,
		log:         d.Log,
		shorten:     d.Shorten,
		botUsername: d.BotUsername,
		gateBaseURL: strings.TrimRight(d.GateBaseURL, "/"),
		hashCost:    d.HashCost,
		loc:         d.Location,
	}
}

func (s *AccessService) SetHooks(h AccessHooks) { s.hooks = h }

func (s *AccessService) Now() time.Time { return s.clock.Now() }

// ===== кэш и хранилище =====

func (s *AccessService) loadUser(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := s.cache.Get(id); ok {
		return u, nil
	}
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	if u != nil {
		s.cache.Put(u)
	}
	return u, nil
}

func (s *AccessService) saveUser(ctx context.Context, u *models.User) error {
	if err := s.users.Save(ctx, u); err != nil {
		s.cache.Invalidate(u.ID)
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	s.cache.Put(u)
	return nil
}

// activeBan удаляет истёкший бан при проверке.
func (s *AccessService) activeBan(ctx context.Context, id int64) (*models.Ban, error) {
	b, err := s.bans.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ban %d: %w", id, err)
	}
	if b == nil {
		return nil, nil
	}
	if b.Active(s.clock.Now()) {
		return b, nil
	}
	if err := s.bans.Delete(ctx, id); err != nil {
		s.log.Warn("[access][ban] expired ban delete failed", zap.Int64("user", id), zap.Error(err))
	}
	return nil, nil
}

func (s *AccessService) ensureUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil || u != nil {
		return u, err
	}
	u = &models.User{ID: id, Status: models.UserUnverified, CreatedAt: s.clock.Now()}
	if _, err := s.users.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user %d: %w", id, err)
	}
	stored, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	if stored == nil {
		stored = u
	}
	s.cache.Put(stored)
	return stored, nil
}

func (s *AccessService) newTokenHash() (string, string, error) {
	token := utils.NewAccessToken()
	hash, err := utils.HashToken(token, s.hashCost)
	if err != nil {
		return "", "", fmt.Errorf("hash token: %w", err)
	}
	return token, hash, nil
}

// ===== публичные операции =====

// EnsureUser создаёт запись при первом обращении.
func (s *AccessService) EnsureUser(ctx context.Context, id int64) (*models.User, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.ensureUser(ctx, id)
}

func (s *AccessService) User(ctx context.Context, id int64) (*models.User, error) {
	return s.loadUser(ctx, id)
}

func (s *AccessService) State(ctx context.Context, id int64) (models.AccessState, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return models.AccessState{}, err
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return models.AccessState{}, err
	}
	return models.StateOf(u, ban, s.settings.Snapshot().TokenTimeout, s.clock.Now()), nil
}

func (s *AccessService) IsBanned(ctx context.Context, id int64) (*models.Ban, error) {
	return s.activeBan(ctx, id)
}

// IssueChallenge выдаёт новый токен и одноразовый тикет гейта.
func (s *AccessService) IssueChallenge(ctx context.Context, id int64) (*Challenge, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return nil, err
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, ErrUserBanned
	}

	token, hash, err := s.newTokenHash()
	if err != nil {
		return nil, err
	}
	u.TokenHash = hash
	u.IssuedAt = s.clock.Now()
	u.Status = models.UserUnverified
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}

	snap := s.settings.Snapshot()
	deep := fmt.Sprintf("https://telegram.dog/%s?start=token_%s", s.botUsername, token)
	return s.wrapChallenge(ctx, id, models.TicketToken, token, deep, snap.ShortenerURL, snap.ShortenerAPIToken)
}

// IssueExtensionChallenge — ссылка на продление лимита через второй сокращатель.
// Время верификации и счётчики не трогаются, только токен.
func (s *AccessService) IssueExtensionChallenge(ctx context.Context, id int64) (*Challenge, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, ErrUserBanned
	}
	snap := s.settings.Snapshot()
	if models.StateOf(u, nil, snap.TokenTimeout, s.clock.Now()).Kind != models.StateVerified {
		return nil, ErrNotVerified
	}
	if u.ExtensionStage >= 2 {
		return nil, ErrExtensionCap
	}
	if !snap.ExtensionConfigured() {
		return nil, ErrExtensionUnavailable
	}

	token, hash, err := s.newTokenHash()
	if err != nil {
		return nil, err
	}
	u.TokenHash = hash
	u.IssuedAt = s.clock.Now()
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	deep := fmt.Sprintf("https://telegram.dog/%s?start=token_ext_%s", s.botUsername, token)
	return s.wrapChallenge(ctx, id, models.TicketExtension, token, deep, snap.ShortenerURL2, snap.ShortenerAPIToken2)
}

func (s *AccessService) wrapChallenge(ctx context.Context, id int64, kind models.TicketKind, token, deep, site, apiToken string) (*Challenge, error) {
	short := s.shorten(ctx, site, apiToken, deep)
	ch := &Challenge{Kind: kind, Token: token, DeepLink: deep, ShortURL: short, GateURL: short}
	if s.gateBaseURL == "" || s.tickets == nil {
		return ch, nil
	}
	t := &models.Ticket{
		ID:          utils.NewTicketID(),
		OwnerUserID: id,
		Kind:        kind,
		RedirectURL: short,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	ch.TicketID = t.ID
	ch.GateURL = s.gateBaseURL + "/gate?id=" + t.ID
	return ch, nil
}

// checkBypass — проверка минимального времени до сравнения токена. nil — проверка пройдена.
func (s *AccessService) checkBypass(ctx context.Context, u *models.User, snap RuntimeSettings) (*RedeemResult, error) {
	if snap.MinimumDuration <= 0 || u.IssuedAt.IsZero() || u.TokenHash == "" {
		return nil, nil
	}
	now := s.clock.Now()
	elapsed := now.Sub(u.IssuedAt)
	if elapsed >= snap.MinimumDuration {
		return nil, nil
	}

	attempts, err := s.users.Increment(ctx, u.ID, models.FieldBypassAttempts, 1)
	if err != nil {
		return nil, fmt.Errorf("increment bypass attempts %d: %w", u.ID, err)
	}
	u.BypassAttempts = attempts
	res := &RedeemResult{Attempts: attempts, Elapsed: elapsed, BanFor: BypassPenalty(attempts)}

	if res.BanFor == 0 {
		s.cache.Put(u)
		res.Outcome = RedeemBypassWarning
		res.Message = fmt.Sprintf(
			"⚠️ Bypass detected! You completed verification in %ds, the minimum is %ds.\nThe next attempt will get you banned.",
			int(elapsed.Seconds()), int(snap.MinimumDuration.Seconds()))
		return res, nil
	}

	res.BannedUntil = now.Add(res.BanFor)
	ban := &models.Ban{UserID: u.ID, BannedUntil: res.BannedUntil, Reason: fmt.Sprintf("bypass attempt %d", attempts), CreatedAt: now}
	if err := s.bans.Set(ctx, ban); err != nil {
		return nil, fmt.Errorf("set ban %d: %w", u.ID, err)
	}
	u.Status = models.UserUnverified
	u.VerifiedAt = time.Time{}
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	res.Outcome = RedeemBypassBanned
	res.Message = fmt.Sprintf("🚫 Bypass detected! You are banned for %s.", utils.ReadableTime(int64(res.BanFor.Seconds())))
	return res, nil
}

func (s *AccessService) emitBypass(ctx context.Context, id int64, res *RedeemResult) {
	if res == nil || (res.Outcome != RedeemBypassWarning && res.Outcome != RedeemBypassBanned) {
		return
	}
	s.log.Warn("[access][bypass] detected",
		zap.Int64("user", id),
		zap.Int("attempt", res.Attempts),
		zap.Duration("elapsed", res.Elapsed),
		zap.Duration("ban", res.BanFor),
	)
	if s.hooks.OnBypass != nil {
		s.hooks.OnBypass(ctx, id, *res)
	}
}

// RedeemToken — проверка токена из deep-link token_<T>.
func (s *AccessService) RedeemToken(ctx context.Context, id int64, presented string) (*RedeemResult, error) {
	res, err := s.redeem(ctx, id, presented)
	if err != nil {
		return nil, err
	}
	metrics.AccessOutcomes.WithLabelValues("redeem", res.Outcome.String()).Inc()
	s.emitBypass(ctx, id, res)
	return res, nil
}

func (s *AccessService) redeem(ctx context.Context, id int64, presented string) (*RedeemResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return &RedeemResult{Outcome: RedeemBanned, BannedUntil: ban.BannedUntil, Message: "🚫 You are banned."}, nil
	}

	snap := s.settings.Snapshot()
	now := s.clock.Now()
	if st := models.StateOf(u, nil, snap.TokenTimeout, now); st.Kind == models.StateVerified {
		return &RedeemResult{Outcome: RedeemAlreadyVerified, ExpiresAt: st.ExpiresAt, Message: "You are already verified ✅"}, nil
	}

	if res, err := s.checkBypass(ctx, u, snap); err != nil || res != nil {
		return res, err
	}

	if !utils.TokenMatches(u.TokenHash, presented) {
		return &RedeemResult{Outcome: RedeemMismatch, Message: "Token Mismatched ❌"}, nil
	}

	_, hash, err := s.newTokenHash()
	if err != nil {
		return nil, err
	}
	u.TokenHash = hash
	u.Status = models.UserVerified
	u.VerifiedAt = now
	u.IssuedAt = now
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	if err := s.stats.Increment(ctx, models.CounterVerifiedToday); err != nil {
		s.log.Warn("[access][redeem] verified_today increment failed", zap.Error(err))
	}
	s.log.Info("[access][redeem] verified", zap.Int64("user", id))
	return &RedeemResult{
		Outcome:   RedeemVerified,
		ExpiresAt: now.Add(snap.TokenTimeout),
		Message:   fmt.Sprintf("Token Verified ✅ (Validity: %s)", utils.ReadableTime(int64(snap.TokenTimeout.Seconds()))),
	}, nil
}

// ExtendQuota — продление лимита: +1 стадия (максимум 2), fileCount=0, verifiedAt не меняется.
func (s *AccessService) ExtendQuota(ctx context.Context, id int64, presented string) (*RedeemResult, error) {
	res, err := s.extend(ctx, id, presented)
	if err != nil {
		metrics.AccessOutcomes.WithLabelValues("extend", "rejected").Inc()
		return nil, err
	}
	metrics.AccessOutcomes.WithLabelValues("extend", res.Outcome.String()).Inc()
	s.emitBypass(ctx, id, res)
	return res, nil
}

func (s *AccessService) extend(ctx context.Context, id int64, presented string) (*RedeemResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return &RedeemResult{Outcome: RedeemBanned, BannedUntil: ban.BannedUntil, Message: "🚫 You are banned."}, nil
	}
	snap := s.settings.Snapshot()
	if models.StateOf(u, nil, snap.TokenTimeout, s.clock.Now()).Kind != models.StateVerified {
		return nil, ErrNotVerified
	}

	if res, err := s.checkBypass(ctx, u, snap); err != nil || res != nil {
		return res, err
	}
	if !utils.TokenMatches(u.TokenHash, presented) {
		return &RedeemResult{Outcome: RedeemMismatch, Message: "Invalid or expired extension link. ❌"}, nil
	}
	if u.ExtensionStage >= 2 {
		return nil, ErrExtensionCap
	}

	_, hash, err := s.newTokenHash()
	if err != nil {
		return nil, err
	}
	u.TokenHash = hash
	u.ExtensionStage++
	u.FileCount = 0
	u.LowQuotaWarned = false
	if err := s.saveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("[access][extend] extended", zap.Int64("user", id), zap.Int("stage", u.ExtensionStage))
	return &RedeemResult{
		Outcome:   RedeemExtended,
		Stage:     u.ExtensionStage,
		ExpiresAt: u.VerifiedAt.Add(snap.TokenTimeout),
		Message: fmt.Sprintf("<b>Limit Extended! 🚀</b>\n\n<b>Extension Stage:</b> %d/2\n<b>Files Reset:</b> 0/%d",
			u.ExtensionStage, snap.DailyLimit),
	}, nil
}

// CheckAccess — можно ли выдать файл прямо сейчас.
func (s *AccessService) CheckAccess(ctx context.Context, id int64) (Decision, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	snap := s.settings.Snapshot()
	if u == nil {
		return Decision{Kind: NeedsChallenge, Reason: ReasonNewUser, DailyLimit: snap.DailyLimit}, nil
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		FileCount:      u.FileCount,
		DailyLimit:     snap.DailyLimit,
		ExtensionStage: u.ExtensionStage,
	}
	if ban != nil {
		d.Kind = Denied
		d.BannedUntil = ban.BannedUntil
		return d, nil
	}
	st := models.StateOf(u, nil, snap.TokenTimeout, s.clock.Now())
	if st.Kind != models.StateVerified {
		d.Kind = NeedsChallenge
		d.Reason = ReasonUnverified
		if u.Status == models.UserVerified {
			d.Reason = ReasonExpired
		}
		return d, nil
	}
	d.ExpiresAt = st.ExpiresAt
	if u.FileCount >= snap.DailyLimit {
		d.Kind = QuotaExceeded
		d.CanExtend = u.ExtensionStage < 2 && snap.ExtensionConfigured()
		return d, nil
	}
	d.Kind = Granted
	return d, nil
}

// RecordDelivery резервирует слот под выдачу: проверка лимита и инкремент идут под
// одной блокировкой пользователя. LowQuota=true ровно один раз за цикл.
// Если отправка не удалась, слот возвращается через ReleaseDelivery.
func (s *AccessService) RecordDelivery(ctx context.Context, id int64) (*Delivery, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	snap := s.settings.Snapshot()
	if st := models.StateOf(u, nil, snap.TokenTimeout, s.clock.Now()); st.Kind != models.StateVerified {
		return nil, ErrNotVerified
	}
	if u.FileCount >= snap.DailyLimit {
		return nil, ErrQuotaExceeded
	}
	count, err := s.users.Increment(ctx, id, models.FieldFileCount, 1)
	if err != nil {
		s.cache.Invalidate(id)
		return nil, fmt.Errorf("increment file count %d: %w", id, err)
	}
	u.FileCount = count
	if err := s.stats.Increment(ctx, models.CounterFilesSharedToday); err != nil {
		s.log.Warn("[access][delivery] files_shared_today increment failed", zap.Error(err))
	}
	metrics.Deliveries.Inc()

	d := &Delivery{FileCount: count, Remaining: snap.DailyLimit - count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	threshold := snap.LowQuotaThreshold()
	if threshold >= 1 && count >= threshold && !u.LowQuotaWarned {
		u.LowQuotaWarned = true
		d.LowQuota = true
		if err := s.saveUser(ctx, u); err != nil {
			return nil, err
		}
		return d, nil
	}
	s.cache.Put(u)
	return d, nil
}

// ReleaseDelivery возвращает слот, взятый RecordDelivery, когда файл так и не ушёл.
func (s *AccessService) ReleaseDelivery(ctx context.Context, id int64, d *Delivery) error {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.loadUser(ctx, id)
	if err != nil {
		return err
	}
	if u == nil || u.FileCount == 0 {
		return nil
	}
	if err := s.stats.Decrement(ctx, models.CounterFilesSharedToday); err != nil {
		s.log.Warn("[access][delivery] files_shared_today rollback failed", zap.Error(err))
	}
	u.FileCount--
	metrics.AccessOutcomes.WithLabelValues("delivery", "released").Inc()
	if d != nil && d.LowQuota {
		u.LowQuotaWarned = false
	}
	return s.saveUser(ctx, u)
}

// ExpireSweep переводит верифицированных пользователей с verifiedAt < threshold в unverified.
func (s *AccessService) ExpireSweep(ctx context.Context, threshold time.Time) (int, error) {
	status := models.UserVerified
	users, err := s.users.Find(ctx, models.UserFilter{Status: &status, VerifiedBefore: &threshold})
	if err != nil {
		return 0, fmt.Errorf("find expired users: %w", err)
	}
	var (
		expired []int64
		errs    []error
	)
	for _, candidate := range users {
		if err := s.expireOne(ctx, candidate.ID, threshold); err != nil {
			errs = append(errs, err)
			continue
		}
		expired = append(expired, candidate.ID)
	}
	for _, id := range expired {
		if s.hooks.OnExpired != nil {
			s.hooks.OnExpired(ctx, id)
		}
	}
	if len(expired) > 0 {
		s.log.Info("[access][expire] sweep done", zap.Int("expired", len(expired)), zap.Int("failed", len(errs)))
	}
	return len(expired), errors.Join(errs...)
}

func (s *AccessService) expireOne(ctx context.Context, id int64, threshold time.Time) error {
	unlock := s.locks.lock(id)
	defer unlock()

	// перечитываем из хранилища: кэш мог отстать
	u, err := s.users.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load user %d: %w", id, err)
	}
	if u == nil || u.Status != models.UserVerified || !u.VerifiedAt.Before(threshold) {
		return nil
	}
	u.Status = models.UserUnverified
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	return s.saveUser(ctx, u)
}

// InactivityPruneSweep удаляет так и не верифицированных пользователей без активности с threshold.
func (s *AccessService) InactivityPruneSweep(ctx context.Context, threshold time.Time) (int64, error) {
	status := models.UserUnverified
	users, err := s.users.Find(ctx, models.UserFilter{Status: &status, ActiveBefore: &threshold})
	if err != nil {
		return 0, fmt.Errorf("find inactive users: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	n, err := s.users.BulkDelete(ctx, ids)
	for _, id := range ids {
		s.cache.Invalidate(id)
	}
	if err != nil {
		return n, fmt.Errorf("bulk delete users: %w", err)
	}
	s.log.Info("[access][prune] removed inactive users", zap.Int64("count", n))
	return n, nil
}

// DailyRollover обнуляет суточные счётчики не чаще раза в календарный день.
func (s *AccessService) DailyRollover(ctx context.Context) (bool, error) {
	date := s.clock.Now().In(s.loc).Format("2006-01-02")
	reset, err := s.stats.ResetIfStale(ctx, date)
	if err != nil {
		return false, fmt.Errorf("daily rollover: %w", err)
	}
	if reset {
		s.log.Info("[access][rollover] daily counters reset", zap.String("date", date))
	}
	return reset, nil
}

// PurgeTickets чистит тикеты старше ttl (для хранилищ без собственного TTL).
func (s *AccessService) PurgeTickets(ctx context.Context, ttl time.Duration) (int64, error) {
	if s.tickets == nil {
		return 0, nil
	}
	return s.tickets.Purge(ctx, s.clock.Now().Add(-ttl))
}

// ===== админские операции =====

func (s *AccessService) AdminVerify(ctx context.Context, id int64) (time.Time, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	_, hash, err := s.newTokenHash()
	if err != nil {
		return time.Time{}, err
	}
	now := s.clock.Now()
	u.TokenHash = hash
	u.Status = models.UserVerified
	u.VerifiedAt = now
	u.IssuedAt = now
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	if err := s.saveUser(ctx, u); err != nil {
		return time.Time{}, err
	}
	return now.Add(s.settings.Snapshot().TokenTimeout), nil
}

// existingUnbanned — общая проверка для reset_limit и expire_token.
func (s *AccessService) existingUnbanned(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	ban, err := s.activeBan(ctx, id)
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, ErrUserBanned
	}
	return u, nil
}

func (s *AccessService) ResetLimit(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.existingUnbanned(ctx, id)
	if err != nil {
		return err
	}
	u.FileCount = 0
	u.LowQuotaWarned = false
	return s.saveUser(ctx, u)
}

func (s *AccessService) ExpireToken(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.existingUnbanned(ctx, id)
	if err != nil {
		return err
	}
	u.Status = models.UserUnverified
	u.VerifiedAt = time.Time{}
	u.FileCount = 0
	u.ExtensionStage = 0
	u.LowQuotaWarned = false
	return s.saveUser(ctx, u)
}

// Ban — админский бан; верификация сбрасывается так же, как при обходе.
func (s *AccessService) Ban(ctx context.Context, id int64, d time.Duration, reason string) (time.Time, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.clock.Now()
	until := now.Add(d)
	if err := s.bans.Set(ctx, &models.Ban{UserID: id, BannedUntil: until, Reason: reason, CreatedAt: now}); err != nil {
		return time.Time{}, fmt.Errorf("set ban %d: %w", id, err)
	}
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return until, err
	}
	if u != nil {
		u.Status = models.UserUnverified
		u.VerifiedAt = time.Time{}
		u.FileCount = 0
		u.ExtensionStage = 0
		u.LowQuotaWarned = false
		if err := s.saveUser(ctx, u); err != nil {
			return until, err
		}
	}
	s.log.Info("[access][ban] banned", zap.Int64("user", id), zap.Duration("for", d))
	return until, nil
}

// Unban снимает бан и обнуляет счётчик попыток обхода. false — бана не было.
func (s *AccessService) Unban(ctx context.Context, id int64) (bool, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	ban, err := s.bans.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load ban %d: %w", id, err)
	}
	if ban == nil {
		return false, nil
	}
	if err := s.bans.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete ban %d: %w", id, err)
	}
	u, err := s.loadUser(ctx, id)
	if err != nil {
		return true, err
	}
	if u != nil && u.BypassAttempts != 0 {
		u.BypassAttempts = 0
		if err := s.saveUser(ctx, u); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *AccessService) SetTargetChannel(ctx context.Context, id, chatID int64, name string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	u, err := s.ensureUser(ctx, id)
	if err != nil {
		return err
	}
	u.TargetChannelID = chatID
	u.TargetChannelName = name
	return s.saveUser(ctx, u)
}

type Overview struct {
	TotalUsers int64
	Daily      models.DailyStats
}

func (s *AccessService) Overview(ctx context.Context) (*Overview, error) {
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	daily, err := s.stats.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	return &Overview{TotalUsers: total, Daily: *daily}, nil
}

func (s *AccessService) UserIDs(ctx context.Context) ([]int64, error) {
	return s.users.ListIDs(ctx)
}

func (s *AccessService) DeleteUser(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()
	s.cache.Invalidate(id)
	return s.users.Delete(ctx, id)
}

func (s *AccessService) DeleteAllUsers(ctx context.Context) (int64, error) {
	n, err := s.users.DeleteAll(ctx)
	s.cache.Purge()
	return n, err
}
