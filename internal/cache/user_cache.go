// Пакет cache — advisory-кэш записей пользователей поверх репозитория.
// Источник истины — хранилище; кэш может отставать, гонки между запросами допускаются.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tgflix/internal/models"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgflix_user_cache_hits_total",
		Help: "Попадания в кэш пользователей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgflix_user_cache_misses_total",
		Help: "Промахи кэша пользователей.",
	})
)

type UserCache interface {
	Get(id int64) (*models.User, bool)
	Put(u *models.User)
	Invalidate(id int64)
	Purge()
}

type lruUserCache struct {
	cache *expirable.LRU[int64, *models.User]
}

func NewUserCache(size int, ttl time.Duration) UserCache {
	return &lruUserCache{cache: expirable.NewLRU[int64, *models.User](size, nil, ttl)}
}

// Get отдаёт копию, чтобы вызывающий код не менял запись в кэше.
func (c *lruUserCache) Get(id int64) (*models.User, bool) {
	u, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return u.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

func (c *lruUserCache) Put(u *models.User) {
	if u == nil {
		return
	}
	c.cache.Add(u.ID, u.Clone())
}

func (c *lruUserCache) Invalidate(id int64) {
	c.cache.Remove(id)
}

func (c *lruUserCache) Purge() {
	c.cache.Purge()
}
