// Package store provides an in-memory market.TxStore.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps users, vouchers and ledger entries in maps. Transactions are
// serialized by a single lock and rolled back by restoring a snapshot.
type Memory struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]market.User
	vouchers map[uuid.UUID]market.Voucher
	entries  []market.LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[uuid.UUID]market.User),
		vouchers: make(map[uuid.UUID]market.Voucher),
	}
}

// Reset removes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[uuid.UUID]market.User)
	m.vouchers = make(map[uuid.UUID]market.Voucher)
	m.entries = nil
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(market.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memoryView{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users    map[uuid.UUID]market.User
	vouchers map[uuid.UUID]market.Voucher
	entries  []market.LedgerEntry
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:    make(map[uuid.UUID]market.User, len(m.users)),
		vouchers: make(map[uuid.UUID]market.Voucher, len(m.vouchers)),
		entries:  append([]market.LedgerEntry{}, m.entries...),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.vouchers {
		s.vouchers[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.vouchers = s.vouchers
	m.entries = s.entries
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUser(id), nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserByUsername(username), nil
}

func (m *Memory) ExistsByUsername(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserByUsername(username) != nil, nil
}

func (m *Memory) ExistsByEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existsByEmail(email), nil
}

func (m *Memory) SaveUser(_ context.Context, u market.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUser(u)
}

func (m *Memory) ListUsers(_ context.Context) ([]market.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsers(), nil
}

func (m *Memory) getUser(id uuid.UUID) *market.User {
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (m *Memory) getUserByUsername(username string) *market.User {
	for _, u := range m.users {
		if u.Username == username {
			return &u
		}
	}
	return nil
}

func (m *Memory) existsByEmail(email string) bool {
	for _, u := range m.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// saveUser enforces the same uniqueness rules as the SQL schemas.
func (m *Memory) saveUser(u market.User) error {
	for id, other := range m.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username {
			return market.ErrDuplicateUsername
		}
		if u.Email != "" && strings.EqualFold(other.Email, u.Email) {
			return market.ErrDuplicateEmail
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) listUsers() []market.User {
	result := make([]market.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (m *Memory) GetVoucher(_ context.Context, id uuid.UUID) (*market.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getVoucher(id), nil
}

func (m *Memory) SaveVoucher(_ context.Context, v market.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveVoucher(v)
	return nil
}

func (m *Memory) DeleteVoucher(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteVoucher(id), nil
}

func (m *Memory) FindVouchers(_ context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findVouchers(q), nil
}

func (m *Memory) CountVouchersByStatus(_ context.Context) (map[market.VoucherStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countByStatus(), nil
}

func (m *Memory) getVoucher(id uuid.UUID) *market.Voucher {
	v, ok := m.vouchers[id]
	if !ok {
		return nil
	}
	v = cloneVoucher(v)
	v.OwnerUsername = m.ownerName(v)
	return &v
}

func (m *Memory) saveVoucher(v market.Voucher) {
	v = cloneVoucher(v)
	v.OwnerUsername = ""
	m.vouchers[v.ID] = v
}

func (m *Memory) deleteVoucher(id uuid.UUID) bool {
	if _, ok := m.vouchers[id]; !ok {
		return false
	}
	delete(m.vouchers, id)
	return true
}

func (m *Memory) findVouchers(q market.VoucherQuery) market.VoucherPage {
	var matched []market.Voucher
	for _, v := range m.vouchers {
		owner := m.ownerName(v)
		if q.Matches(v, owner) {
			v = cloneVoucher(v)
			v.OwnerUsername = owner
			matched = append(matched, v)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return q.Less(matched[i], matched[j]) })

	total := len(matched)
	items := matched
	if !q.Page.Unpaged() {
		start := q.Page.Offset()
		if start < 0 || start > total {
			start = total
		}
		end := total
		if q.Page.Size < total-start {
			end = start + q.Page.Size
		}
		items = matched[start:end]
	}
	if items == nil {
		items = []market.Voucher{}
	}
	return market.NewVoucherPage(items, q.Page, total)
}

func (m *Memory) countByStatus() map[market.VoucherStatus]int {
	counts := make(map[market.VoucherStatus]int)
	for _, v := range m.vouchers {
		counts[v.Status]++
	}
	return counts
}

func (m *Memory) ownerName(v market.Voucher) string {
	if v.UserID == nil {
		return ""
	}
	if u, ok := m.users[*v.UserID]; ok {
		return u.Username
	}
	return ""
}

func cloneVoucher(v market.Voucher) market.Voucher {
	if v.UserID != nil {
		id := *v.UserID
		v.UserID = &id
	}
	if v.CancellationReason != nil {
		r := *v.CancellationReason
		v.CancellationReason = &r
	}
	if v.CancellationRequestedAt != nil {
		t := *v.CancellationRequestedAt
		v.CancellationRequestedAt = &t
	}
	return v
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e market.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesByUser(userID), nil
}

func (m *Memory) entriesByUser(userID uuid.UUID) []market.LedgerEntry {
	result := []market.LedgerEntry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].UserID == userID {
			result = append(result, m.entries[i])
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONAL VIEW - Used inside WithTx; the parent lock is already held
// =============================================================================

type memoryView struct {
	m *Memory
}

func (v *memoryView) GetUser(_ context.Context, id uuid.UUID) (*market.User, error) {
	return v.m.getUser(id), nil
}

func (v *memoryView) GetUserByUsername(_ context.Context, username string) (*market.User, error) {
	return v.m.getUserByUsername(username), nil
}

func (v *memoryView) ExistsByUsername(_ context.Context, username string) (bool, error) {
	return v.m.getUserByUsername(username) != nil, nil
}

func (v *memoryView) ExistsByEmail(_ context.Context, email string) (bool, error) {
	return v.m.existsByEmail(email), nil
}

func (v *memoryView) SaveUser(_ context.Context, u market.User) error {
	return v.m.saveUser(u)
}

func (v *memoryView) ListUsers(_ context.Context) ([]market.User, error) {
	return v.m.listUsers(), nil
}

func (v *memoryView) GetVoucher(_ context.Context, id uuid.UUID) (*market.Voucher, error) {
	return v.m.getVoucher(id), nil
}

func (v *memoryView) SaveVoucher(_ context.Context, voucher market.Voucher) error {
	v.m.saveVoucher(voucher)
	return nil
}

func (v *memoryView) DeleteVoucher(_ context.Context, id uuid.UUID) (bool, error) {
	return v.m.deleteVoucher(id), nil
}

func (v *memoryView) FindVouchers(_ context.Context, q market.VoucherQuery) (market.VoucherPage, error) {
	return v.m.findVouchers(q), nil
}

func (v *memoryView) CountVouchersByStatus(_ context.Context) (map[market.VoucherStatus]int, error) {
	return v.m.countByStatus(), nil
}

func (v *memoryView) AppendEntry(_ context.Context, e market.LedgerEntry) error {
	v.m.entries = append(v.m.entries, e)
	return nil
}

func (v *memoryView) EntriesByUser(_ context.Context, userID uuid.UUID) ([]market.LedgerEntry, error) {
	return v.m.entriesByUser(userID), nil
}
