package legacy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"enviobox/pkg/auth"
	"enviobox/pkg/domain"
	"enviobox/pkg/store"
)

type eventRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *eventRecorder) Publish(_ context.Context, routingKey string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, routingKey)
	return nil
}

func newTestApp(t *testing.T, st store.Store) (*App, *eventRecorder) {
	t.Helper()
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	recorder := &eventRecorder{}
	app, err := New(Config{Store: st, Tokens: tokens, Events: recorder})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app, recorder
}

func seedBox(t *testing.T, st store.Store, rec domain.LegacyRecord) {
	t.Helper()
	inserted, _, err := st.InsertLegacyIfAbsent(rec)
	if err != nil || !inserted {
		t.Fatalf("seed %s: inserted=%v err=%v", rec.BoxID, inserted, err)
	}
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *legacy.Error, got %v", err)
	}
	return appErr.Kind
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *legacy.Error, got %v", err)
	}
	return appErr.Code
}

func TestClaimHappyPath(t *testing.T) {
	mem := store.NewMemoryStore()
	app, recorder := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S4231", FullName: "Juan Pérez García", Email: "juan@mail.com"})

	result, err := app.Claim(ClaimRequest{
		BoxID:    "s4231",
		Email:    "Juan@Mail.com",
		Password: "clave-segura",
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("claim must issue a token")
	}
	if result.Account.BoxID != "S4231" || result.Account.Role != domain.RoleClient {
		t.Fatalf("unexpected account: %+v", result.Account)
	}
	if result.Account.FullName != "Juan Pérez García" {
		t.Fatalf("name must fall back to stored name, got %q", result.Account.FullName)
	}
	if result.Account.ReferralCode == "" {
		t.Fatalf("referral code must be generated")
	}

	rec, _, _ := mem.FindLegacyByBoxID("S4231")
	if !rec.IsClaimed || rec.ClaimedByUserID != result.Account.ID || rec.ClaimedAt == nil {
		t.Fatalf("claim fields not flipped atomically: %+v", rec)
	}
	if got := len(mem.Accounts()); got != 1 {
		t.Fatalf("accounts = %d, want 1", got)
	}
	if len(recorder.keys) != 1 || recorder.keys[0] != "legacy.claimed" {
		t.Fatalf("claim event not published: %v", recorder.keys)
	}

	// second attempt on the same box fails and creates nothing
	_, err = app.Claim(ClaimRequest{BoxID: "S4231", Email: "otro@mail.com", FullName: "Juan Pérez", Password: "x-clave"})
	if codeOf(t, err) != "ALREADY_CLAIMED" {
		t.Fatalf("second claim: %v", err)
	}
	if got := len(mem.Accounts()); got != 1 {
		t.Fatalf("second claim must not create an account, got %d", got)
	}
}

func TestClaimValidation(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S1", FullName: "Ana Solis", Email: "ana@mail.com"})

	tests := []struct {
		name string
		req  ClaimRequest
		code string
	}{
		{"missing password", ClaimRequest{BoxID: "S1", Email: "ana@mail.com"}, "INVALID_INPUT"},
		{"missing box", ClaimRequest{Email: "ana@mail.com", Password: "clave1"}, "INVALID_INPUT"},
		{"unknown box", ClaimRequest{BoxID: "S999", Email: "ana@mail.com", Password: "clave1"}, "BOX_NOT_FOUND"},
		{"identity mismatch", ClaimRequest{BoxID: "S1", Email: "otra@mail.com", FullName: "Pedro Gomez", Password: "clave1"}, "DATA_MISMATCH"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := app.Claim(tc.req)
			if codeOf(t, err) != tc.code {
				t.Fatalf("got %v, want code %s", err, tc.code)
			}
		})
	}
}

func TestClaimAcceptsNameWhenEmailDiffers(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S2", FullName: "Juan Pérez", Email: "old@mail.com"})

	result, err := app.Claim(ClaimRequest{
		BoxID:    "S2",
		Email:    "nuevo@mail.com",
		FullName: "Juan Garcia",
		Password: "clave-segura",
	})
	if err != nil {
		t.Fatalf("claim by first-token name match: %v", err)
	}
	if result.Account.Email != "nuevo@mail.com" {
		t.Fatalf("account keeps submitted email: %+v", result.Account)
	}
}

func TestClaimConflictsWithExistingAccountEmail(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S3", Email: "dup@mail.com"})
	if err := mem.CreateAccount(domain.Account{ID: "a1", Email: "dup@mail.com"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	_, err := app.Claim(ClaimRequest{BoxID: "S3", Email: "dup@mail.com", Password: "clave1"})
	if codeOf(t, err) != "EMAIL_EXISTS" {
		t.Fatalf("got %v, want EMAIL_EXISTS", err)
	}
	rec, _, _ := mem.FindLegacyByBoxID("S3")
	if rec.IsClaimed {
		t.Fatalf("record must stay unclaimed on conflict")
	}
}

// failingStore injects a fault into the claimed-flag update to prove the
// surrounding transaction rolls the account back.
type failingStore struct {
	*store.MemoryStore
	failMarkClaimed bool
}

func (f *failingStore) MarkClaimed(boxID, accountID string, now time.Time) error {
	if f.failMarkClaimed {
		return errors.New("injected fault")
	}
	return f.MemoryStore.MarkClaimed(boxID, accountID, now)
}

func (f *failingStore) InTransaction(fn func(store.Store) error) error {
	return f.MemoryStore.InTransaction(func(store.Store) error { return fn(f) })
}

func TestClaimAtomicityNoOrphanedAccount(t *testing.T) {
	mem := store.NewMemoryStore()
	faulty := &failingStore{MemoryStore: mem, failMarkClaimed: true}
	app, _ := newTestApp(t, faulty)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S5", Email: "ana@mail.com"})

	_, err := app.Claim(ClaimRequest{BoxID: "S5", Email: "ana@mail.com", Password: "clave1"})
	if kindOf(t, err) != KindInternal {
		t.Fatalf("injected fault should surface as internal, got %v", err)
	}
	if got := len(mem.Accounts()); got != 0 {
		t.Fatalf("account must not survive rollback, got %d", got)
	}
	rec, _, _ := mem.FindLegacyByBoxID("S5")
	if rec.IsClaimed {
		t.Fatalf("record must stay unclaimed after rollback")
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S7", Email: "uno@mail.com", FullName: "Juan Pérez"})

	results := make([]error, 2)
	var g errgroup.Group
	g.Go(func() error {
		_, results[0] = app.Claim(ClaimRequest{BoxID: "S7", Email: "uno@mail.com", Password: "clave1"})
		return nil
	})
	g.Go(func() error {
		_, results[1] = app.Claim(ClaimRequest{BoxID: "S7", Email: "uno@mail.com", FullName: "Juan", Password: "clave2"})
		return nil
	})
	_ = g.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case codeOf(t, err) == "ALREADY_CLAIMED" || codeOf(t, err) == "EMAIL_EXISTS":
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("want exactly one winner, got %d successes %d conflicts", successes, conflicts)
	}
	if got := len(mem.Accounts()); got != 1 {
		t.Fatalf("accounts = %d, want 1", got)
	}
}

func TestVerifyBoxExistsMasksHints(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S4231", FullName: "Juan Pérez García", Email: "juanito@mail.com"})

	result, err := app.VerifyBoxExists("s4231")
	if err != nil {
		t.Fatalf("verify box: %v", err)
	}
	if !result.Exists || result.IsClaimed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.EmailHint != "ju***@mail.com" {
		t.Fatalf("email hint = %q", result.EmailHint)
	}
	if result.NameHint != "Juan ***" {
		t.Fatalf("name hint = %q", result.NameHint)
	}
	if strings.Contains(result.EmailHint, "juanito") || strings.Contains(result.NameHint, "Pérez") {
		t.Fatalf("hints leak stored identity: %+v", result)
	}
}

func TestVerifyBoxExistsUnknownBox(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	result, err := app.VerifyBoxExists("S404")
	if err != nil {
		t.Fatalf("verify box: %v", err)
	}
	if result.Exists {
		t.Fatalf("unknown box must not exist: %+v", result)
	}
}

func TestVerifyName(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{
		BoxID:            "S8",
		FullName:         "Juan Pérez García",
		Email:            "juan@mail.com",
		RegistrationDate: "2019-03-01",
	})

	result, err := app.VerifyName("S8", "Juan Perez")
	if err != nil {
		t.Fatalf("verify name: %v", err)
	}
	if !result.Exists || !result.NameMatch {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ClientData.Email != "juan@mail.com" || result.ClientData.RegistrationDate != "2019-03-01" {
		t.Fatalf("client data missing: %+v", result.ClientData)
	}

	mismatch, err := app.VerifyName("S8", "Maria Lopez")
	if err != nil {
		t.Fatalf("verify name: %v", err)
	}
	if mismatch.NameMatch {
		t.Fatalf("unrelated name must not match")
	}
}

func TestDeleteRecordRefusedWhenClaimed(t *testing.T) {
	mem := store.NewMemoryStore()
	app, _ := newTestApp(t, mem)
	seedBox(t, mem, domain.LegacyRecord{BoxID: "S9", Email: "d@mail.com"})
	if _, err := app.Claim(ClaimRequest{BoxID: "S9", Email: "d@mail.com", Password: "clave1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	rec, _, _ := mem.FindLegacyByBoxID("S9")
	if err := app.DeleteRecord(rec.ID); codeOf(t, err) != "RECORD_CLAIMED" {
		t.Fatalf("delete claimed record: %v", err)
	}
}
