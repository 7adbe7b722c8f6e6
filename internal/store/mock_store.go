// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
// Failures can be injected per method name through FailWith.
type MockStore struct {
	mu          sync.RWMutex
	families    map[string]*Family    // keyed by family ID
	accounts    map[string]*Account   // keyed by account ID
	caretakers  map[string]*Caretaker // keyed by caretaker ID
	setupTokens map[string]*SetupToken
	activities  map[string]*Activity
	settings    map[string]string
	audit       []AuditEntry // append order
	failures    map[string]error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		families:    make(map[string]*Family),
		accounts:    make(map[string]*Account),
		caretakers:  make(map[string]*Caretaker),
		setupTokens: make(map[string]*SetupToken),
		activities:  make(map[string]*Activity),
		settings:    make(map[string]string),
		failures:    make(map[string]error),
	}
}

// FailWith makes every later call to the named method return err.
// Passing a nil err clears the failure.
func (m *MockStore) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *MockStore) failure(method string) error {
	return m.failures[method]
}

// ownerLocked returns a copy of the subscription of the family's owner.
func (m *MockStore) ownerLocked(f *Family) *Subscription {
	if f.AccountID == "" {
		return nil
	}
	a, ok := m.accounts[f.AccountID]
	if !ok {
		return nil
	}
	sub := a.Subscription
	return &sub
}

func (m *MockStore) familyLocked(f *Family) *Family {
	result := *f
	result.Owner = m.ownerLocked(f)
	return &result
}

// CreateFamily stores a new family.
func (m *MockStore) CreateFamily(ctx context.Context, family *Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateFamily"); err != nil {
		return err
	}
	if err := m.checkFamilyLocked(family); err != nil {
		return err
	}
	m.putFamilyLocked(family)
	return nil
}

func (m *MockStore) checkFamilyLocked(family *Family) error {
	for _, f := range m.families {
		if f.Slug == family.Slug || f.ID == family.ID {
			return ErrDuplicate
		}
	}
	return nil
}

func (m *MockStore) putFamilyLocked(family *Family) {
	if family.ID == "" {
		family.ID = uuid.New().String()
	}
	if family.AuthMode == "" {
		family.AuthMode = AuthModeSystem
	}
	if family.CreatedAt.IsZero() {
		family.CreatedAt = time.Now().UTC()
	}

	f := *family
	f.Owner = nil
	m.families[f.ID] = &f
}

// GetFamily retrieves a family by ID.
func (m *MockStore) GetFamily(ctx context.Context, id string) (*Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetFamily"); err != nil {
		return nil, err
	}
	f, ok := m.families[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.familyLocked(f), nil
}

// GetFamilyBySlug retrieves a family by slug.
func (m *MockStore) GetFamilyBySlug(ctx context.Context, slug string) (*Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetFamilyBySlug"); err != nil {
		return nil, err
	}
	for _, f := range m.families {
		if f.Slug == slug {
			return m.familyLocked(f), nil
		}
	}
	return nil, ErrNotFound
}

// ListFamilies returns all families ordered by slug.
func (m *MockStore) ListFamilies(ctx context.Context) ([]*Family, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListFamilies"); err != nil {
		return nil, err
	}
	families := make([]*Family, 0, len(m.families))
	for _, f := range m.families {
		families = append(families, m.familyLocked(f))
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].Slug < families[j].Slug
	})
	return families, nil
}

// CreateAccount stores a new account.
func (m *MockStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateAccount"); err != nil {
		return err
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	for _, a := range m.accounts {
		if a.Email == account.Email {
			return ErrDuplicate
		}
	}

	a := *account
	a.Family = nil
	a.Caretaker = nil
	m.accounts[a.ID] = &a
	return nil
}

// UpdateSubscription replaces an account's subscription fields.
// Only the mock offers this; tests use it to age trials and close accounts.
func (m *MockStore) UpdateSubscription(id string, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Subscription = sub
	return nil
}

func (m *MockStore) accountLocked(a *Account) *Account {
	result := *a
	if f, ok := m.families[a.FamilyID]; ok {
		result.Family = m.familyLocked(f)
	}
	if c, ok := m.caretakers[a.CaretakerID]; ok {
		ct := *c
		result.Caretaker = &ct
	}
	return &result
}

// GetAccount retrieves an account with its family and linked caretaker.
func (m *MockStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetAccount"); err != nil {
		return nil, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.accountLocked(a), nil
}

// GetAccountByEmail retrieves an account by email.
func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetAccountByEmail"); err != nil {
		return nil, err
	}
	for _, a := range m.accounts {
		if a.Email == email {
			return m.accountLocked(a), nil
		}
	}
	return nil, ErrNotFound
}

// CreateCaretaker stores a new caretaker.
func (m *MockStore) CreateCaretaker(ctx context.Context, caretaker *Caretaker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateCaretaker"); err != nil {
		return err
	}
	for _, c := range m.caretakers {
		if c.FamilyID == caretaker.FamilyID && c.LoginID == caretaker.LoginID {
			return ErrDuplicate
		}
	}
	m.putCaretakerLocked(caretaker)
	return nil
}

func (m *MockStore) putCaretakerLocked(caretaker *Caretaker) {
	if caretaker.ID == "" {
		caretaker.ID = uuid.New().String()
	}
	if caretaker.Role == "" {
		caretaker.Role = "USER"
	}
	if caretaker.CreatedAt.IsZero() {
		caretaker.CreatedAt = time.Now().UTC()
	}

	c := *caretaker
	m.caretakers[c.ID] = &c
}

// SetCaretakerStatus flips a caretaker's inactive and deleted flags.
// Only the mock offers this; tests use it to deactivate live sessions.
func (m *MockStore) SetCaretakerStatus(id string, inactive, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caretakers[id]
	if !ok {
		return ErrNotFound
	}
	c.Inactive = inactive
	c.Deleted = deleted
	return nil
}

// GetCaretaker retrieves a caretaker by ID.
func (m *MockStore) GetCaretaker(ctx context.Context, id string) (*Caretaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetCaretaker"); err != nil {
		return nil, err
	}
	c, ok := m.caretakers[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetCaretakerByLogin retrieves a caretaker by family and login id.
func (m *MockStore) GetCaretakerByLogin(ctx context.Context, familyID, loginID string) (*Caretaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetCaretakerByLogin"); err != nil {
		return nil, err
	}
	for _, c := range m.caretakers {
		if c.FamilyID == familyID && c.LoginID == loginID {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// CountActiveCaretakers counts active regular caretakers of a family.
func (m *MockStore) CountActiveCaretakers(ctx context.Context, familyID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("CountActiveCaretakers"); err != nil {
		return 0, err
	}
	n := 0
	for _, c := range m.caretakers {
		if c.FamilyID == familyID && !c.IsSystem() && !c.Inactive && !c.Deleted {
			n++
		}
	}
	return n, nil
}

// CreateSetupToken stores a new setup token.
func (m *MockStore) CreateSetupToken(ctx context.Context, token *SetupToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateSetupToken"); err != nil {
		return err
	}
	if _, exists := m.setupTokens[token.Token]; exists {
		return ErrDuplicate
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	st := *token
	m.setupTokens[st.Token] = &st
	return nil
}

// GetSetupToken retrieves a setup token record.
func (m *MockStore) GetSetupToken(ctx context.Context, token string) (*SetupToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetSetupToken"); err != nil {
		return nil, err
	}
	st, ok := m.setupTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	result := *st
	return &result, nil
}

// ProvisionFamily creates a family and its system caretaker and consumes
// the setup token under one lock. Injected CreateFamily and CreateCaretaker
// failures apply here too, and leave nothing behind.
func (m *MockStore) ProvisionFamily(ctx context.Context, p Provisioning) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, method := range []string{"ProvisionFamily", "CreateFamily", "CreateCaretaker"} {
		if err := m.failure(method); err != nil {
			return err
		}
	}

	var token *SetupToken
	if p.SetupToken != "" {
		st, ok := m.setupTokens[p.SetupToken]
		if !ok || st.Used {
			return ErrSetupTokenUsed
		}
		token = st
	}
	if err := m.checkFamilyLocked(p.Family); err != nil {
		return err
	}

	m.putFamilyLocked(p.Family)
	p.System.FamilyID = p.Family.ID
	m.putCaretakerLocked(p.System)
	if token != nil {
		token.Used = true
	}
	return nil
}

// GetSetting returns the value stored under key.
func (m *MockStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("GetSetting"); err != nil {
		return "", err
	}
	v, ok := m.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetSetting stores value under key.
func (m *MockStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("SetSetting"); err != nil {
		return err
	}
	m.settings[key] = value
	return nil
}

// CreateActivity stores a new activity.
func (m *MockStore) CreateActivity(ctx context.Context, activity *Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("CreateActivity"); err != nil {
		return err
	}
	if activity.ID == "" {
		activity.ID = NewActivityID()
	}
	now := time.Now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = now
	}
	a := *activity
	m.activities[a.ID] = &a
	return nil
}

// ListActivities returns a family's activities, newest first.
func (m *MockStore) ListActivities(ctx context.Context, familyID string, limit int) ([]*Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListActivities"); err != nil {
		return nil, err
	}
	var result []*Activity
	for _, a := range m.activities {
		if a.FamilyID == familyID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteActivity removes a family's activity.
func (m *MockStore) DeleteActivity(ctx context.Context, familyID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("DeleteActivity"); err != nil {
		return err
	}
	a, ok := m.activities[id]
	if !ok || a.FamilyID != familyID {
		return ErrNotFound
	}
	delete(m.activities, id)
	return nil
}

// AppendAuditLog appends an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure("AppendAuditLog"); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns matching audit entries, newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.failure("ListAuditLog"); err != nil {
		return nil, err
	}
	limit := normalizeAuditLimit(f.Limit)
	entries := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.Timestamp.After(*f.Until) {
			continue
		}
		if f.FamilyID != nil && e.FamilyID != *f.FamilyID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping always succeeds unless a failure was injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failure("Ping")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// ErrInjected is a ready-made error for FailWith.
var ErrInjected = errors.New("injected store failure")

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
