package legacy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"enviobox/internal/util"
	"enviobox/pkg/auth"
	"enviobox/pkg/domain"
	"enviobox/pkg/events"
	"enviobox/pkg/storage"
	"enviobox/pkg/store"
)

// EventPublisher is the platform event bus, satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Config holds runtime dependencies for the migration core.
type Config struct {
	Store      store.Store
	Tokens     *auth.TokenIssuer
	Archive    storage.ObjectStore // optional: raw export archival
	Events     EventPublisher      // optional: platform event bus
	WideLayout *WideLayout         // optional override of the headerless wide layout
}

// App is the legacy client migration service: bulk import of historical
// records and the identity-claim workflow that binds them to new accounts.
type App struct {
	store    store.Store
	tokens   *auth.TokenIssuer
	archive  storage.ObjectStore
	events   EventPublisher
	importer *Importer
}

// New constructs the migration core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	wide := DefaultWideLayout
	if cfg.WideLayout != nil {
		wide = *cfg.WideLayout
	}
	return &App{
		store:    cfg.Store,
		tokens:   cfg.Tokens,
		archive:  cfg.Archive,
		events:   cfg.Events,
		importer: NewImporter(cfg.Store, wide),
	}, nil
}

// ClaimRequest carries the end user's claim submission.
type ClaimRequest struct {
	BoxID    string
	Email    string
	Password string
	Phone    string
	FullName string
}

// ClaimResult is a committed claim: the new account plus its access token.
type ClaimResult struct {
	Account domain.Account
	Token   string
}

// Claim binds an unclaimed historical record to a freshly created account.
// All store steps run inside one transaction; any failure rolls the whole
// unit back, so an account never exists without the claim flag flip.
func (a *App) Claim(req ClaimRequest) (ClaimResult, error) {
	boxID := strings.ToUpper(strings.TrimSpace(req.BoxID))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if boxID == "" || email == "" || req.Password == "" {
		return ClaimResult{}, ErrMissingFields
	}

	var account domain.Account
	err := a.store.InTransaction(func(tx store.Store) error {
		record, found, err := tx.FindLegacyByBoxID(boxID)
		if err != nil {
			return internalError(fmt.Errorf("find box %s: %w", boxID, err))
		}
		if !found {
			return ErrBoxNotFound
		}
		if record.IsClaimed {
			return ErrAlreadyClaimed
		}
		if !identityMatches(record, email, req.FullName) {
			return ErrDataMismatch
		}

		if _, exists, err := tx.FindAccountByEmail(email); err != nil {
			return internalError(fmt.Errorf("find account %s: %w", email, err))
		} else if exists {
			return ErrEmailExists
		}

		passwordHash, err := auth.HashPassword(req.Password)
		if err != nil {
			return internalError(fmt.Errorf("hash password: %w", err))
		}

		fullName := strings.TrimSpace(req.FullName)
		if fullName == "" {
			fullName = record.FullName
		}
		now := time.Now().UTC()
		account = domain.Account{
			ID:           util.NewID(),
			BoxID:        boxID,
			Email:        email,
			FullName:     fullName,
			Phone:        strings.TrimSpace(req.Phone),
			PasswordHash: passwordHash,
			Role:         domain.RoleClient,
			ReferralCode: newReferralCode(),
			CreatedAt:    now,
		}
		if err := tx.CreateAccount(account); err != nil {
			return internalError(fmt.Errorf("create account: %w", err))
		}
		if err := tx.MarkClaimed(boxID, account.ID, now); err != nil {
			if errors.Is(err, store.ErrAlreadyClaimed) {
				return ErrAlreadyClaimed
			}
			return internalError(fmt.Errorf("mark claimed: %w", err))
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, asAppError(err)
	}

	token, err := a.tokens.Sign(account)
	if err != nil {
		return ClaimResult{}, internalError(fmt.Errorf("sign token: %w", err))
	}

	a.publish(events.BoxClaimed, map[string]any{
		"boxId":     account.BoxID,
		"accountId": account.ID,
		"email":     account.Email,
		"claimedAt": time.Now().UTC(),
	})
	return ClaimResult{Account: account, Token: token}, nil
}

// identityMatches accepts the submitted email when it equals the stored one
// case-insensitively, or the first token of the submitted name when the
// matcher relates it to the stored name.
func identityMatches(record domain.LegacyRecord, email, fullName string) bool {
	if record.Email != "" && strings.EqualFold(record.Email, email) {
		return true
	}
	first := firstToken(fullName)
	if record.FullName == "" || first == "" {
		return false
	}
	return NamesMatch(first, record.FullName)
}

// BoxVerification is a pre-claim existence check with masked hints so the
// client can confirm without the full stored identity being disclosed.
type BoxVerification struct {
	Exists    bool   `json:"exists"`
	IsClaimed bool   `json:"isClaimed,omitempty"`
	NameHint  string `json:"nameHint,omitempty"`
	EmailHint string `json:"emailHint,omitempty"`
}

// VerifyBoxExists reports whether a box id exists, with obfuscated hints.
func (a *App) VerifyBoxExists(boxID string) (BoxVerification, error) {
	boxID = strings.ToUpper(strings.TrimSpace(boxID))
	if boxID == "" {
		return BoxVerification{}, ErrMissingFields
	}
	record, found, err := a.store.FindLegacyByBoxID(boxID)
	if err != nil {
		return BoxVerification{}, internalError(fmt.Errorf("find box %s: %w", boxID, err))
	}
	if !found {
		return BoxVerification{}, nil
	}
	return BoxVerification{
		Exists:    true,
		IsClaimed: record.IsClaimed,
		NameHint:  maskName(record.FullName),
		EmailHint: maskEmail(record.Email),
	}, nil
}

// NameVerification is the result of matching a submitted name against a
// record, with the record's current contact data for client-side editing.
type NameVerification struct {
	Exists     bool       `json:"exists"`
	NameMatch  bool       `json:"nameMatch"`
	ClientData ClientData `json:"clientData"`
}

type ClientData struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	RegistrationDate string `json:"registrationDate,omitempty"`
}

// VerifyName runs the full identity matcher against a record's stored name.
func (a *App) VerifyName(boxID, fullName string) (NameVerification, error) {
	boxID = strings.ToUpper(strings.TrimSpace(boxID))
	if boxID == "" || strings.TrimSpace(fullName) == "" {
		return NameVerification{}, ErrMissingFields
	}
	record, found, err := a.store.FindLegacyByBoxID(boxID)
	if err != nil {
		return NameVerification{}, internalError(fmt.Errorf("find box %s: %w", boxID, err))
	}
	if !found {
		return NameVerification{}, nil
	}
	return NameVerification{
		Exists:    true,
		NameMatch: NamesMatch(fullName, record.FullName),
		ClientData: ClientData{
			FullName:         record.FullName,
			Email:            record.Email,
			RegistrationDate: record.RegistrationDate,
		},
	}, nil
}

// ImportFile imports the uploaded export at path. The temporary file is
// always removed, whatever the batch outcome; when an archive is configured
// the raw bytes are kept there for audit.
func (a *App) ImportFile(path, originalFilename string) (domain.ImportStats, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove upload", "path", path, "err", err)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ImportStats{}, internalError(fmt.Errorf("read upload: %w", err))
	}
	a.archiveUpload(data, originalFilename)

	stats := a.importer.Import(data, originalFilename)
	a.publish(events.ImportFinished, map[string]any{
		"file":       originalFilename,
		"importados": stats.Imported,
		"duplicados": stats.Duplicates,
		"errores":    stats.Errors,
		"total":      stats.Total,
	})
	return stats, nil
}

// ImportBytes imports an in-memory export, for callers that already hold the
// file contents.
func (a *App) ImportBytes(data []byte, originalFilename string) domain.ImportStats {
	return a.importer.Import(data, originalFilename)
}

func (a *App) archiveUpload(data []byte, originalFilename string) {
	if a.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := fmt.Sprintf("legacy-imports/%s-%s", time.Now().UTC().Format("20060102T150405"), originalFilename)
	if err := a.archive.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "text/plain"); err != nil {
		slog.Warn("archive upload", "key", key, "err", err)
	}
}

// ListRecords returns the admin listing.
func (a *App) ListRecords(filters store.SearchFilters, page store.Page) ([]domain.LegacyRecord, int64, error) {
	records, total, err := a.store.SearchLegacyRecords(filters, page)
	if err != nil {
		return nil, 0, internalError(fmt.Errorf("search records: %w", err))
	}
	return records, total, nil
}

// DeleteRecord removes an unclaimed record.
func (a *App) DeleteRecord(id string) error {
	err := a.store.DeleteLegacyRecord(id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, store.ErrRecordClaimed):
		return ErrRecordClaimed
	default:
		return internalError(fmt.Errorf("delete record: %w", err))
	}
}

// Stats returns aggregate record counters.
func (a *App) Stats() (domain.RecordStats, error) {
	stats, err := a.store.LegacyRecordStats()
	if err != nil {
		return domain.RecordStats{}, internalError(fmt.Errorf("record stats: %w", err))
	}
	return stats, nil
}

func (a *App) publish(routingKey string, payload any) {
	if a.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.events.Publish(ctx, routingKey, payload); err != nil {
		slog.Warn("publish event", "key", routingKey, "err", err)
	}
}

func asAppError(err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return internalError(err)
}

// newReferralCode builds a code unique enough for the account's unique index
// to never realistically collide.
func newReferralCode() string {
	stamp := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	suffix := strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
	return "BOX-" + stamp + "-" + suffix
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		if len(email) <= 2 {
			return "***"
		}
		return email[:2] + "***"
	}
	local := email[:at]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***" + email[at:]
}

func maskName(name string) string {
	first := firstToken(name)
	if first == "" {
		return ""
	}
	return first + " ***"
}
