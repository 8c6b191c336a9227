package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if _, _, err := tx.GetOrCreateAttempt(ctx, domain.Attempt{ID: "a1", StudentID: "u1", ExamID: "e1", Score: decimal.Zero}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		if _, ok, _ := tx.OpenAttempt(ctx, "u1", "e1"); ok {
			t.Fatalf("expected attempt to be rolled back")
		}
		return nil
	})
}

func TestStoreRollbackRestoresKeyedLookups(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	seed := func(ctx context.Context, tx app.Tx) error {
		_, _, _ = tx.GetOrCreateAttempt(ctx, domain.Attempt{ID: "a1", StudentID: "u1", ExamID: "e1"})
		_, _, _ = tx.GetOrCreateSectionResult(ctx, domain.SectionResult{ID: "sr1", AttemptID: "a1", SectionID: "s1"})
		_, _, _ = tx.GetOrCreateAreaResult(ctx, domain.AreaResult{ID: "ar1", SectionResultID: "sr1", AreaBlockID: "b1"})
		return tx.InsertAnswerRecord(ctx, domain.AnswerRecord{ID: "r1", AttemptID: "a1", SectionResultID: "sr1", AreaResultID: "ar1", SectionQuestionID: "sq1", OptionID: "o1"})
	}
	if err := store.InTx(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		rec, _, _ := tx.AnswerRecord(ctx, "ar1", "sq1")
		rec.OptionID = "o2"
		_ = tx.SaveAnswerRecord(ctx, rec)
		_, _, _ = tx.GetOrCreateAreaResult(ctx, domain.AreaResult{ID: "ar2", SectionResultID: "sr1", AreaBlockID: "b2"})
		_ = tx.InsertAnswerRecord(ctx, domain.AnswerRecord{ID: "r2", AttemptID: "a1", SectionResultID: "sr1", AreaResultID: "ar2", SectionQuestionID: "sq2"})
		_ = tx.InsertRoom(ctx, domain.Room{ID: "room-1", Code: "ABC-1234", State: domain.StateWaiting})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		rec, ok, _ := tx.AnswerRecord(ctx, "ar1", "sq1")
		if !ok || rec.OptionID != "o1" {
			t.Fatalf("expected original answer o1, got %+v", rec)
		}
		if _, ok, _ := tx.AnswerRecord(ctx, "ar2", "sq2"); ok {
			t.Fatalf("expected rolled back answer to be gone")
		}
		areas, _ := tx.AreaResults(ctx, "sr1")
		if len(areas) != 1 {
			t.Fatalf("expected 1 area result, got %d", len(areas))
		}
		records, _ := tx.AttemptAnswerRecords(ctx, "a1")
		if len(records) != 1 {
			t.Fatalf("expected 1 answer record, got %d", len(records))
		}
		if latest, ok, _ := tx.LatestSectionResult(ctx, "u1", "s1"); !ok || latest.ID != "sr1" {
			t.Fatalf("expected sr1 as latest section result, got %+v", latest)
		}
		if inUse, _ := tx.RoomCodeInUse(ctx, "ABC-1234"); inUse {
			t.Fatalf("expected rolled back room code to be free")
		}
		return nil
	})
}

func TestStoreGetOrCreateReturnsOpenAttempt(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var first, second domain.Attempt
	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		first, _, _ = tx.GetOrCreateAttempt(ctx, domain.Attempt{ID: "a1", StudentID: "u1", ExamID: "e1"})
		return nil
	})
	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		var created bool
		second, created, _ = tx.GetOrCreateAttempt(ctx, domain.Attempt{ID: "a2", StudentID: "u1", ExamID: "e1"})
		if created {
			t.Fatalf("expected existing attempt")
		}
		return nil
	})
	if first.ID != second.ID {
		t.Fatalf("expected same attempt, got %s and %s", first.ID, second.ID)
	}

	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		second.Completed = true
		if err := tx.SaveAttempt(ctx, second); err != nil {
			t.Fatalf("save: %v", err)
		}
		third, created, _ := tx.GetOrCreateAttempt(ctx, domain.Attempt{ID: "a3", StudentID: "u1", ExamID: "e1"})
		if !created || third.ID != "a3" {
			t.Fatalf("expected a new attempt once the old one completed, got %+v", third)
		}
		return nil
	})
}

func TestStoreContestAnswersAreAppendOnly(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		a := domain.ContestAnswer{ContestID: "r1", StudentID: "u1", QuestionID: "q1", OptionID: "o1"}
		if ok, _ := tx.InsertContestAnswer(ctx, domain.ContestRoom, a); !ok {
			t.Fatalf("expected first insert")
		}
		a.OptionID = "o2"
		if ok, _ := tx.InsertContestAnswer(ctx, domain.ContestRoom, a); ok {
			t.Fatalf("expected duplicate to be rejected")
		}
		if ok, _ := tx.InsertContestAnswer(ctx, domain.ContestSimulacro, a); !ok {
			t.Fatalf("expected simulacro answers to be tracked separately")
		}
		return nil
	})
}

func TestStoreCancelExpiredRooms(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		_ = tx.InsertRoom(ctx, domain.Room{ID: "old", Code: "AAA-0001", State: domain.StateWaiting, ExpiresAt: now.Add(-time.Minute)})
		_ = tx.InsertRoom(ctx, domain.Room{ID: "new", Code: "AAA-0002", State: domain.StateWaiting, ExpiresAt: now.Add(time.Minute)})
		_ = tx.InsertRoom(ctx, domain.Room{ID: "live", Code: "AAA-0003", State: domain.StateInProgress, ExpiresAt: now.Add(-time.Minute)})
		return nil
	})
	_ = store.InTx(ctx, func(ctx context.Context, tx app.Tx) error {
		n, _ := tx.CancelExpiredRooms(ctx, now)
		if n != 1 {
			t.Fatalf("expected 1 cancelled room, got %d", n)
		}
		r, _, _ := tx.Room(ctx, "old")
		if r.State != domain.StateCancelled {
			t.Fatalf("expected old room cancelled, got %s", r.State)
		}
		inUse, _ := tx.RoomCodeInUse(ctx, "AAA-0001")
		if inUse {
			t.Fatalf("cancelled room code should be free")
		}
		return nil
	})
}

func TestSweepLockExcludesSecondHolder(t *testing.T) {
	lock := NewSweepLock()
	release, ok, _ := lock.TryLock(context.Background(), time.Minute)
	if !ok {
		t.Fatalf("expected first lock")
	}
	if _, ok, _ := lock.TryLock(context.Background(), time.Minute); ok {
		t.Fatalf("expected second lock to fail")
	}
	release()
	if _, ok, _ := lock.TryLock(context.Background(), time.Minute); !ok {
		t.Fatalf("expected lock after release")
	}
}
