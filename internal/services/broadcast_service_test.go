package services

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type fakeAudience struct {
	ids     []int64
	removed []int64
}

func (a *fakeAudience) UserIDs(context.Context) ([]int64, error) { return a.ids, nil }

func (a *fakeAudience) DeleteUser(_ context.Context, id int64) error {
	a.removed = append(a.removed, id)
	return nil
}

func TestBroadcast_Summary(t *testing.T) {
	aud := &fakeAudience{ids: []int64{1, 2, 3, 4, 5}}
	msgr := &fakeMessenger{copyErrs: map[int64][]error{
		2: {&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}},
		3: {&tgbotapi.Error{Code: 403, Message: "Forbidden: user is deactivated"}},
		4: {errors.New("network down")},
		5: {&RetryAfterError{After: 0, Err: errors.New("flood")}},
	}}
	svc := NewBroadcastService(msgr, aud, clockwork.NewFakeClock(), 0, zap.NewNop())

	var calls int
	sum, err := svc.Run(context.Background(), -100, 77, func(BroadcastSummary) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	want := BroadcastSummary{Total: 5, Success: 2, Blocked: 1, Deleted: 1, Failed: 1}
	if sum != want {
		t.Errorf("итог %+v, ожидалось %+v", sum, want)
	}
	if calls != 5 {
		t.Errorf("progress вызван %d раз", calls)
	}
	if len(aud.removed) != 2 || aud.removed[0] != 2 || aud.removed[1] != 3 {
		t.Errorf("удалены %v, ожидалось [2 3]", aud.removed)
	}
	for _, c := range msgr.copies {
		if c.From != -100 || c.MessageID != 77 {
			t.Errorf("копия %+v", c)
		}
	}
}

func TestBroadcast_IgnoresCancellation(t *testing.T) {
	aud := &fakeAudience{ids: []int64{1, 2}}
	msgr := &fakeMessenger{}
	svc := NewBroadcastService(msgr, aud, clockwork.NewFakeClock(), 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := svc.Run(ctx, -100, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Success != 2 {
		t.Errorf("success = %d: отмена не должна прерывать рассылку", sum.Success)
	}
}
