package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"enviobox/pkg/domain"
)

// MemoryStore keeps records in-process. It backs tests and local development;
// transactions are serialized and rolled back via snapshots, which preserves
// the single-winner claim property of the Postgres store.
type MemoryStore struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	records  map[string]domain.LegacyRecord // key: box id
	order    []string                       // box ids in insertion order
	accounts map[string]domain.Account      // key: lowercased email
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]domain.LegacyRecord),
		accounts: make(map[string]domain.Account),
	}
}

func (m *MemoryStore) FindLegacyByBoxID(boxID string) (domain.LegacyRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[boxID]
	return rec, ok, nil
}

func (m *MemoryStore) InsertLegacyIfAbsent(rec domain.LegacyRecord) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.BoxID]; exists {
		return false, "", nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.BoxID] = rec
	m.order = append(m.order, rec.BoxID)
	return true, rec.ID, nil
}

func (m *MemoryStore) MarkClaimed(boxID, accountID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[boxID]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.IsClaimed {
		return ErrAlreadyClaimed
	}
	claimedAt := now
	rec.IsClaimed = true
	rec.ClaimedByUserID = accountID
	rec.ClaimedAt = &claimedAt
	m.records[boxID] = rec
	return nil
}

func (m *MemoryStore) DeleteLegacyRecord(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for boxID, rec := range m.records {
		if rec.ID != id {
			continue
		}
		if rec.IsClaimed {
			return ErrRecordClaimed
		}
		delete(m.records, boxID)
		for i, b := range m.order {
			if b == boxID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		return nil
	}
	return ErrRecordNotFound
}

func (m *MemoryStore) SearchLegacyRecords(filters SearchFilters, page Page) ([]domain.LegacyRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.TrimSpace(filters.Search)
	matched := make([]domain.LegacyRecord, 0, len(m.records))
	for _, boxID := range m.order {
		rec := m.records[boxID]
		if filters.Claimed != nil && rec.IsClaimed != *filters.Claimed {
			continue
		}
		if search != "" && !recordMatches(rec, search) {
			continue
		}
		matched = append(matched, rec)
	}

	if search != "" {
		upper := strings.ToUpper(search)
		sort.SliceStable(matched, func(i, j int) bool {
			exactI := strings.ToUpper(matched[i].BoxID) == upper
			exactJ := strings.ToUpper(matched[j].BoxID) == upper
			if exactI != exactJ {
				return exactI
			}
			if len(matched[i].BoxID) != len(matched[j].BoxID) {
				return len(matched[i].BoxID) < len(matched[j].BoxID)
			}
			return matched[i].BoxID < matched[j].BoxID
		})
	} else {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
	}

	total := int64(len(matched))
	if page.Size > 0 {
		start := 0
		if page.Number > 1 {
			start = (page.Number - 1) * page.Size
		}
		if start > len(matched) {
			start = len(matched)
		}
		end := start + page.Size
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func recordMatches(rec domain.LegacyRecord, search string) bool {
	lower := strings.ToLower(search)
	if strings.Contains(strings.ToLower(rec.BoxID), lower) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.Email), lower) {
		return true
	}
	name := strings.ToLower(rec.FullName)
	for _, word := range strings.Fields(lower) {
		if !strings.Contains(name, word) {
			return false
		}
	}
	return true
}

func (m *MemoryStore) LegacyRecordStats() (domain.RecordStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.RecordStats{Total: int64(len(m.records))}
	for _, rec := range m.records {
		if rec.IsClaimed {
			stats.Claimed++
		}
	}
	stats.Unclaimed = stats.Total - stats.Claimed
	return stats, nil
}

func (m *MemoryStore) FindAccountByEmail(email string) (domain.Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[strings.ToLower(email)]
	return account, ok, nil
}

func (m *MemoryStore) CreateAccount(account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[strings.ToLower(account.Email)] = account
	return nil
}

// Accounts returns all accounts, for test assertions.
func (m *MemoryStore) Accounts() []domain.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

// InTransaction serializes transactions with a mutex and rolls the whole
// store back to a snapshot when fn fails. Nesting is not supported.
func (m *MemoryStore) InTransaction(fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	records, order, accounts := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(records, order, accounts)
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() (map[string]domain.LegacyRecord, []string, map[string]domain.Account) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make(map[string]domain.LegacyRecord, len(m.records))
	for k, v := range m.records {
		records[k] = v
	}
	order := append([]string(nil), m.order...)
	accounts := make(map[string]domain.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v
	}
	return records, order, accounts
}

func (m *MemoryStore) restore(records map[string]domain.LegacyRecord, order []string, accounts map[string]domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.order = order
	m.accounts = accounts
}
