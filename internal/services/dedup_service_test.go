package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"tgflix/internal/models"
	"tgflix/internal/repositories"
)

func newDedupFixture(src *fakeSource) (*DedupService, *repositories.MemoryFingerprintRepository) {
	repo := repositories.NewMemoryFingerprintRepository()
	var source ContentSource
	if src != nil {
		source = src
	}
	svc := NewDedupService(repo, source, clockwork.NewFakeClockAt(testEpoch), DedupOptions{Attempts: 2}, zap.NewNop())
	return svc, repo
}

func video(msgID int, uid, fileID, name string, size int64) *models.MediaItem {
	return &models.MediaItem{
		MessageID: msgID,
		Kind:      models.MediaVideo,
		FileID:    fileID,
		UniqueID:  uid,
		FileName:  name,
		FileSize:  size,
		Duration:  600,
	}
}

func TestChunkPlan(t *testing.T) {
	cases := []struct {
		size                int64
		total, middle, last int64
	}{
		{0, 1, 0, 0},
		{1, 1, 0, 0},
		{ChunkSize, 1, 0, 0},
		{ChunkSize + 1, 2, 1, 1},
		{5 * ChunkSize, 5, 2, 4},
		{5*ChunkSize + 10, 6, 3, 5},
	}
	for _, c := range cases {
		total, middle, last := chunkPlan(c.size)
		if total != c.total || middle != c.middle || last != c.last {
			t.Errorf("chunkPlan(%d) = %d/%d/%d, ожидалось %d/%d/%d",
				c.size, total, middle, last, c.total, c.middle, c.last)
		}
	}
}

func TestDedup_PreCheckReasons(t *testing.T) {
	ctx := context.Background()
	svc, _ := newDedupFixture(nil)

	first := &models.MediaItem{MessageID: 1, Kind: models.MediaAudio, UniqueID: "u1", Caption: "Movie.2024", FileName: "a.mp3", FileSize: 100, Duration: 60}
	res, err := svc.Check(ctx, first)
	if err != nil || res.Duplicate {
		t.Fatalf("первый элемент: %+v %v", res, err)
	}

	cases := []struct {
		name string
		item *models.MediaItem
		want MatchReason
	}{
		{"тот же unique_id", &models.MediaItem{MessageID: 2, Kind: models.MediaAudio, UniqueID: "u1", FileSize: 1}, MatchUniqueID},
		{"та же подпись", &models.MediaItem{MessageID: 3, Kind: models.MediaAudio, UniqueID: "u2", Caption: "Movie.2024", FileSize: 2}, MatchCaption},
		{"те же метаданные", &models.MediaItem{MessageID: 4, Kind: models.MediaAudio, UniqueID: "u3", FileName: "a.mp3", FileSize: 100, Duration: 60}, MatchMetadata},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := svc.Check(ctx, c.item)
			if err != nil {
				t.Fatal(err)
			}
			if !res.Duplicate || res.Reason != c.want {
				t.Fatalf("duplicate=%v reason=%s, ожидалось %s", res.Duplicate, res.Reason, c.want)
			}
			if res.Existing == nil || res.Existing.MessageID != 1 {
				t.Errorf("existing = %+v", res.Existing)
			}
		})
	}
}

func TestDedup_ZeroSizeSkipsMetadata(t *testing.T) {
	ctx := context.Background()
	svc, repo := newDedupFixture(nil)

	for i, uid := range []string{"a", "b"} {
		res, err := svc.Check(ctx, &models.MediaItem{MessageID: i + 1, Kind: models.MediaAudio, UniqueID: uid, FileName: "same.mp3"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Duplicate {
			t.Fatalf("элемент %s без размера не должен совпасть по метаданным", uid)
		}
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("сохранено %d отпечатков, ожидалось 2", n)
	}
}

func TestDedup_HashDuplicate(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{seeds: map[string]byte{"f1": 10, "f2": 10}}
	svc, _ := newDedupFixture(src)

	res, err := svc.Check(ctx, video(1, "u1", "f1", "one.mkv", 5*ChunkSize))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate || res.HashFailed {
		t.Fatalf("первый элемент: %+v", res)
	}
	fp := res.Fingerprint
	if fp.HashStart == "" || fp.HashStart == fp.HashMiddle || fp.HashMiddle == fp.HashEnd {
		t.Errorf("хэши должны различаться по чанкам: %+v", fp)
	}

	res, err = svc.Check(ctx, video(2, "u2", "f2", "two.mkv", 5*ChunkSize))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Duplicate || res.Reason != MatchHash {
		t.Fatalf("ожидался дубликат по хэшу, получено %+v", res)
	}
	if src.calls != 6 {
		t.Errorf("прочитано чанков %d, ожидалось 6", src.calls)
	}
}

func TestDedup_StartHashAloneIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		seeds:  map[string]byte{"f1": 10, "f2": 10},
		middle: map[string]byte{"f2": 99},
	}
	svc, repo := newDedupFixture(src)

	if _, err := svc.Check(ctx, video(1, "u1", "f1", "one.mkv", 5*ChunkSize)); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Check(ctx, video(2, "u2", "f2", "two.mkv", 5*ChunkSize))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate {
		t.Fatal("совпадение только по началу не должно считаться дубликатом")
	}
	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("сохранено %d, ожидалось 2", n)
	}
}

func TestDedup_SmallFileReusesStartHash(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{seeds: map[string]byte{"f1": 1}}
	svc, _ := newDedupFixture(src)

	res, err := svc.Check(ctx, video(1, "u1", "f1", "clip.mp4", ChunkSize+ChunkSize/2))
	if err != nil {
		t.Fatal(err)
	}
	fp := res.Fingerprint
	if fp.HashStart == "" || fp.HashMiddle != fp.HashStart || fp.HashEnd != fp.HashStart {
		t.Errorf("для двух чанков все хэши равны начальному: %+v", fp)
	}
	if src.calls != 1 {
		t.Errorf("чтений %d, ожидалось 1", src.calls)
	}
}

func TestDedup_HashFailureStillStores(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{seeds: map[string]byte{"f1": 1}, fail: errors.New("download failed")}
	svc, repo := newDedupFixture(src)

	res, err := svc.Check(ctx, video(1, "u1", "f1", "one.mkv", 3*ChunkSize))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate || !res.HashFailed || res.HashErr == nil {
		t.Fatalf("ожидался HashFailed, получено %+v", res)
	}
	stored, _ := repo.FindByMessageID(ctx, 1)
	if stored == nil || stored.HashStart != "" {
		t.Errorf("отпечаток без хэшей должен быть сохранён: %+v", stored)
	}
}

func TestDedup_Remove(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{seeds: map[string]byte{"f1": 1, "f2": 2, "f3": 3}}
	svc, repo := newDedupFixture(src)

	var hash string
	for i, id := range []string{"f1", "f2", "f3"} {
		res, err := svc.Check(ctx, video(i+1, "u-"+id, id, "shared.mkv", int64(i+1)*ChunkSize))
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			hash = res.Fingerprint.HashStart
		}
	}

	n, err := svc.RemoveExact(ctx, hash)
	if err != nil || n != 1 {
		t.Fatalf("RemoveExact = %d, %v", n, err)
	}
	field, n, err := svc.RemoveAny(ctx, "shared.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if field != models.FPFileName || n != 2 {
		t.Fatalf("RemoveAny: поле %s удалено %d", field, n)
	}
	if c, _ := repo.Count(ctx); c != 0 {
		t.Errorf("осталось %d", c)
	}
	if field, n, _ := svc.RemoveAny(ctx, "nothing"); field != "" || n != 0 {
		t.Errorf("несуществующий аргумент: %s %d", field, n)
	}
}

func TestDedup_RemoveByMessage(t *testing.T) {
	ctx := context.Background()
	svc, _ := newDedupFixture(nil)
	if _, err := svc.Check(ctx, &models.MediaItem{MessageID: 42, Kind: models.MediaAudio, UniqueID: "u42"}); err != nil {
		t.Fatal(err)
	}
	n, err := svc.RemoveByMessage(ctx, 42)
	if err != nil || n != 1 {
		t.Fatalf("RemoveByMessage = %d, %v", n, err)
	}
	if n, _ := svc.RemoveByMessage(ctx, 42); n != 0 {
		t.Errorf("повторное удаление = %d", n)
	}
}
