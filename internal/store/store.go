// ABOUTME: Store interfaces and household data types for nursery-gateway persistence
// ABOUTME: Defines families, accounts, caretakers, setup tokens and the activity log

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint would be violated
var ErrDuplicate = errors.New("already exists")

// ErrSetupTokenUsed is returned when a setup token is missing or already consumed
var ErrSetupTokenUsed = errors.New("setup token already used")

// Family auth modes. SYSTEM families log in with a shared system PIN,
// CARETAKER families require every caretaker to use their own login id.
const (
	AuthModeSystem    = "SYSTEM"
	AuthModeCaretaker = "CARETAKER"
)

// SystemLoginID is the reserved login id of a family's built-in system caretaker.
const SystemLoginID = "00"

// Subscription holds the raw trial and plan fields of an account.
// Whether the subscription has lapsed is decided by the auth package.
type Subscription struct {
	BetaParticipant bool
	TrialEnds       *time.Time
	PlanExpires     *time.Time
	PlanType        string // empty means no plan was ever assigned
	Closed          bool
}

// Family is a tenant: the data-isolation boundary for caretakers and activities.
type Family struct {
	ID            string
	Slug          string
	Name          string
	AuthMode      string
	SystemPINHash string
	AccountID     string        // owning account, empty for self-hosted families
	Owner         *Subscription // owning account's subscription, nil without an owner
	CreatedAt     time.Time
}

// Closed reports whether the family's owning account has been closed.
func (f *Family) Closed() bool {
	return f.Owner != nil && f.Owner.Closed
}

// Caretaker is a family-scoped user identity.
type Caretaker struct {
	ID        string
	FamilyID  string
	LoginID   string
	Name      string
	Type      string // PARENT, NANNY, GRANDPARENT, ...
	Role      string // USER or ADMIN
	PINHash   string
	Inactive  bool
	Deleted   bool
	CreatedAt time.Time
}

// IsSystem reports whether this is the family's built-in system caretaker.
func (c *Caretaker) IsSystem() bool {
	return c.LoginID == SystemLoginID
}

// Account is a directly-authenticated identity holding credentials and a subscription.
// Family and Caretaker are populated by GetAccount when linked.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Verified     bool
	Subscription
	FamilyID    string
	CaretakerID string
	Family      *Family
	Caretaker   *Caretaker
	CreatedAt   time.Time
}

// SetupToken is a single-purpose credential for provisioning a family.
// An empty FamilyID means the token may set up any family.
type SetupToken struct {
	Token        string
	FamilyID     string
	PasswordHash string
	ExpiresAt    time.Time
	Used         bool
	CreatedAt    time.Time
}

// Activity is one tracked household event (feeding, sleep, diaper, medicine, ...).
type Activity struct {
	ID          string
	FamilyID    string
	CaretakerID string
	Kind        string
	Notes       string
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// Provisioning is the set of records written together when a family is set up.
type Provisioning struct {
	Family     *Family
	System     *Caretaker // FamilyID is filled in from Family
	SetupToken string     // consumed in the same write when set
}

// IdentityStore is the read side consulted while resolving credentials.
type IdentityStore interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetCaretaker(ctx context.Context, id string) (*Caretaker, error)
	GetCaretakerByLogin(ctx context.Context, familyID, loginID string) (*Caretaker, error)
	CountActiveCaretakers(ctx context.Context, familyID string) (int, error)
	GetFamily(ctx context.Context, id string) (*Family, error)
	GetFamilyBySlug(ctx context.Context, slug string) (*Family, error)
	GetSetupToken(ctx context.Context, token string) (*SetupToken, error)
}

// HouseholdStore provisions the records the identity side reads.
type HouseholdStore interface {
	CreateFamily(ctx context.Context, family *Family) error
	ListFamilies(ctx context.Context) ([]*Family, error)
	CreateAccount(ctx context.Context, account *Account) error
	CreateCaretaker(ctx context.Context, caretaker *Caretaker) error
	CreateSetupToken(ctx context.Context, token *SetupToken) error
	ProvisionFamily(ctx context.Context, p Provisioning) error
}

// SettingsStore holds process-wide key/value settings such as the
// encrypted system administrator password.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// ActivityStore persists the family activity log.
type ActivityStore interface {
	CreateActivity(ctx context.Context, activity *Activity) error
	ListActivities(ctx context.Context, familyID string, limit int) ([]*Activity, error)
	DeleteActivity(ctx context.Context, familyID, id string) error
}

// AuditStore records security-relevant actions.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is everything the gateway needs from persistence.
type Store interface {
	IdentityStore
	HouseholdStore
	SettingsStore
	ActivityStore
	AuditStore

	// Ping verifies the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
