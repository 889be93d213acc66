package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runRepositoryContract exercises behaviour every Repository implementation must share.
// newRepo must return an empty store.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("keys are unique across namespaces", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.CreatePending(ctx, contractPending("alice", "a@x.com", "+14155552671")); err != nil {
			t.Fatalf("create pending: %v", err)
		}
		err := repo.CreateIdentity(ctx, contractIdentity("bob", "b@x.com", "+14155552671"))
		var dup *DuplicateError
		if !errors.As(err, &dup) || dup.Field != FieldMobile {
			t.Fatalf("expected mobile duplicate, got %v", err)
		}
		// the failed insert must not leave bob's username reserved
		if err := repo.CreateIdentity(ctx, contractIdentity("bob", "b@x.com", "+14155550001")); err != nil {
			t.Fatalf("create identity after failed reservation: %v", err)
		}
	})

	t.Run("promote is single shot and keeps keys", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := contractPending("carol", "c@x.com", "+14155550002")
		if err := repo.CreatePending(ctx, p); err != nil {
			t.Fatalf("create pending: %v", err)
		}
		ident, err := repo.Promote(ctx, p.ID, StatusAccepted)
		if err != nil {
			t.Fatalf("promote: %v", err)
		}
		if ident.ID != p.ID || ident.Status != StatusAccepted || ident.Role != RoleNormal {
			t.Fatalf("unexpected identity %+v", ident)
		}
		if _, err := repo.Promote(ctx, p.ID, StatusAccepted); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second promote: expected ErrNotFound, got %v", err)
		}
		stored, err := repo.FindByUsername(ctx, "carol")
		if err != nil || stored.Status != StatusAccepted || string(stored.PasswordHash) != "hash" {
			t.Fatalf("stored identity %+v err=%v", stored, err)
		}
		if err := repo.CreatePending(ctx, contractPending("carol", "other@x.com", "+14155550003")); !errors.Is(err, ErrDuplicate) {
			t.Fatalf("username must stay reserved after promote, got %v", err)
		}
	})

	t.Run("status update is conditional", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		if err := repo.CreateIdentity(ctx, contractIdentity("dave", "d@x.com", "+14155550004")); err != nil {
			t.Fatalf("create identity: %v", err)
		}
		if err := repo.UpdateStatus(ctx, "dave", StatusPending, StatusRejected); err != nil {
			t.Fatalf("update status: %v", err)
		}
		if err := repo.UpdateStatus(ctx, "dave", StatusPending, StatusAccepted); !errors.Is(err, ErrStatusMismatch) {
			t.Fatalf("expected ErrStatusMismatch, got %v", err)
		}
		if err := repo.UpdateStatus(ctx, "nobody", StatusPending, StatusAccepted); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("codes are consumed once per channel under concurrency", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := contractPending("erin", "e@x.com", "+14155550005")
		p.EmailCode = "email-code"
		p.MobileCode = "123456"
		if err := repo.CreatePending(ctx, p); err != nil {
			t.Fatalf("create pending: %v", err)
		}

		const attempts = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes = map[Channel]int{}
		)
		for i := 0; i < attempts; i++ {
			for ch, code := range map[Channel]string{ChannelEmail: "email-code", ChannelSMS: "123456"} {
				wg.Add(1)
				go func(ch Channel, code string) {
					defer wg.Done()
					_, err := repo.ConsumeCode(ctx, p.ID, ch, code)
					if err == nil {
						mu.Lock()
						successes[ch]++
						mu.Unlock()
					} else if !errors.Is(err, ErrCodeMismatch) {
						t.Errorf("consume %s: %v", ch, err)
					}
				}(ch, code)
			}
		}
		wg.Wait()

		if successes[ChannelEmail] != 1 || successes[ChannelSMS] != 1 {
			t.Fatalf("each code must be accepted exactly once, got %v", successes)
		}
		stored, err := repo.FindPending(ctx, p.ID)
		if err != nil {
			t.Fatalf("find pending: %v", err)
		}
		if !stored.EmailVerified || !stored.MobileVerified || stored.EmailCode != "" || stored.MobileCode != "" {
			t.Fatalf("expected both channels verified and cleared, got %+v", stored)
		}
		if _, err := repo.ConsumeCode(ctx, p.ID, ChannelEmail, "email-code"); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("replayed code: expected ErrCodeMismatch, got %v", err)
		}
		if err := repo.ReplaceCode(ctx, p.ID, ChannelEmail, "fresh"); !errors.Is(err, ErrAlreadyVerified) {
			t.Fatalf("replace on verified channel: expected ErrAlreadyVerified, got %v", err)
		}
	})

	t.Run("replace code touches one channel", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		p := contractPending("frank", "f@x.com", "+14155550006")
		p.EmailCode = "old-email"
		p.MobileCode = "111111"
		if err := repo.CreatePending(ctx, p); err != nil {
			t.Fatalf("create pending: %v", err)
		}
		if err := repo.ReplaceCode(ctx, p.ID, ChannelSMS, "222222"); err != nil {
			t.Fatalf("replace code: %v", err)
		}
		stored, _ := repo.FindPending(ctx, p.ID)
		if stored.MobileCode != "222222" || stored.EmailCode != "old-email" {
			t.Fatalf("unexpected codes %+v", stored)
		}
		if _, err := repo.ConsumeCode(ctx, p.ID, ChannelSMS, "111111"); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("replaced code must not match, got %v", err)
		}
		if _, err := repo.ConsumeCode(ctx, uuid.NewString(), ChannelSMS, "222222"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown registration: expected ErrNotFound, got %v", err)
		}
		if err := repo.ReplaceCode(ctx, uuid.NewString(), ChannelSMS, "x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("unknown registration: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("purge releases keys of expired registrations", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		old := contractPending("gina", "g@x.com", "+14155550007")
		old.CreatedAt = time.Now().Add(-48 * time.Hour).UTC()
		if err := repo.CreatePending(ctx, old); err != nil {
			t.Fatalf("create pending: %v", err)
		}
		n, err := repo.PurgeExpiredPending(ctx, time.Now().Add(-24*time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("expected one purge, got %d %v", n, err)
		}
		if err := repo.CreatePending(ctx, contractPending("gina", "g@x.com", "+14155550007")); err != nil {
			t.Fatalf("purged keys should be free: %v", err)
		}
	})
}

func contractPending(username, email, mobile string) PendingIdentity {
	p := newPending(username, email, mobile)
	p.PasswordHash = []byte("hash")
	return p
}

func contractIdentity(username, email, mobile string) Identity {
	now := time.Now().UTC()
	return Identity{
		ID: uuid.NewString(),
		Profile: Profile{
			Username:     username,
			PasswordHash: []byte("hash"),
			Email:        email,
			Mobile:       mobile,
			FirstName:    "Test",
			LastName:     "User",
			Age:          30,
		},
		Role:      RoleNormal,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryRepositoryContract(t *testing.T) {
	runRepositoryContract(t, func(*testing.T) Repository { return NewMemoryRepository() })
}
