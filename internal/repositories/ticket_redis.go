package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tgflix/internal/models"
)

const ticketKeyPrefix = "tgflix:ticket:"

// redisTicketRepository хранит тикеты с TTL на стороне Redis; Consume — атомарный GETDEL.
type redisTicketRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTicketRepository(client *redis.Client, ttl time.Duration) TicketRepository {
	return &redisTicketRepository{client: client, ttl: ttl}
}

// ConnectRedis принимает redis:// URL или просто host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		opts = &redis.Options{Addr: redisURL}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (r *redisTicketRepository) Create(ctx context.Context, t *models.Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, ticketKeyPrefix+t.ID, raw, r.ttl).Err()
}

func (r *redisTicketRepository) Get(ctx context.Context, id string) (*models.Ticket, error) {
	raw, err := r.client.Get(ctx, ticketKeyPrefix+id).Bytes()
	return decodeTicket(raw, err)
}

func (r *redisTicketRepository) Consume(ctx context.Context, id string) (*models.Ticket, error) {
	raw, err := r.client.GetDel(ctx, ticketKeyPrefix+id).Bytes()
	return decodeTicket(raw, err)
}

// Purge не нужен: ключи истекают сами.
func (r *redisTicketRepository) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeTicket(raw []byte, err error) (*models.Ticket, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
