// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into narrow interfaces:
//
//   - IdentityStore: Reads consulted while resolving credentials
//   - HouseholdStore: Provisioning of families, accounts, caretakers, setup tokens
//   - SettingsStore: Process-wide key/value settings
//   - ActivityStore: The family activity log
//   - AuditStore: Security audit log of logins, lockouts and provisioning
//
// SQLiteStore implements all of them in a single struct; Store is their union.
//
// # Data Models
//
//   - Family: Tenant boundary, optionally owned by an Account
//   - Account: Email/password identity carrying a Subscription
//   - Caretaker: Family-scoped PIN identity with a role
//   - SetupToken: Single-purpose provisioning credential
//   - Activity: One logged household event
//   - AuditEntry: Who did what, from where, to which family
//
// Reads of a Family always carry the owning account's Subscription in
// Family.Owner. GetAccount loads the account, its family (with owner) and its
// linked caretaker in one query.
//
// # SQLite Configuration
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go) and
// "sqlite3" (github.com/mattn/go-sqlite3, cgo). Both run with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicate: Unique constraint violated
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests; FailWith injects per-method errors.
// Use NewSQLiteStore with a t.TempDir() path for integration tests.
package store
