// ABOUTME: Family, account, caretaker and setup token persistence for SQLiteStore
// ABOUTME: Account reads join family, family owner and linked caretaker in a single query

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const familySelect = `
	SELECT f.id, f.slug, f.name, f.auth_mode, f.system_pin_hash, f.account_id, f.created_at,
		o.id, o.beta_participant, o.trial_ends, o.plan_expires, o.plan_type, o.closed
	FROM families f
	LEFT JOIN accounts o ON o.id = f.account_id
`

// nullSubscription holds the nullable owner columns of a LEFT JOIN.
type nullSubscription struct {
	id          sql.NullString
	beta        sql.NullBool
	trialEnds   sql.NullString
	planExpires sql.NullString
	planType    sql.NullString
	closed      sql.NullBool
}

func (n *nullSubscription) dest() []any {
	return []any{&n.id, &n.beta, &n.trialEnds, &n.planExpires, &n.planType, &n.closed}
}

func (n *nullSubscription) subscription() (*Subscription, error) {
	if !n.id.Valid {
		return nil, nil
	}
	sub := &Subscription{
		BetaParticipant: n.beta.Bool,
		PlanType:        n.planType.String,
		Closed:          n.closed.Bool,
	}
	var err error
	if sub.TrialEnds, err = parseNullTime(n.trialEnds); err != nil {
		return nil, fmt.Errorf("parsing trial_ends: %w", err)
	}
	if sub.PlanExpires, err = parseNullTime(n.planExpires); err != nil {
		return nil, fmt.Errorf("parsing plan_expires: %w", err)
	}
	return sub, nil
}

func scanFamily(row rowScanner) (*Family, error) {
	var f Family
	var pinHash, accountID sql.NullString
	var createdAtStr string
	var owner nullSubscription

	dest := append([]any{&f.ID, &f.Slug, &f.Name, &f.AuthMode, &pinHash, &accountID, &createdAtStr}, owner.dest()...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	f.SystemPINHash = pinHash.String
	f.AccountID = accountID.String

	var err error
	f.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if f.Owner, err = owner.subscription(); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFamily stores a new family. IDs are generated when empty.
func (s *SQLiteStore) CreateFamily(ctx context.Context, family *Family) error {
	if err := insertFamily(ctx, s.db, family); err != nil {
		return err
	}
	s.logger.Debug("created family", "id", family.ID, "slug", family.Slug)
	return nil
}

func insertFamily(ctx context.Context, ex execer, family *Family) error {
	if family.ID == "" {
		family.ID = uuid.New().String()
	}
	if family.AuthMode == "" {
		family.AuthMode = AuthModeSystem
	}
	if family.CreatedAt.IsZero() {
		family.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO families (id, slug, name, auth_mode, system_pin_hash, account_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, query,
		family.ID,
		family.Slug,
		family.Name,
		family.AuthMode,
		nullString(family.SystemPINHash),
		nullString(family.AccountID),
		family.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting family: %w", err)
	}
	return nil
}

// GetFamily retrieves a family and its owner's subscription by ID.
// Returns ErrNotFound if the family doesn't exist.
func (s *SQLiteStore) GetFamily(ctx context.Context, id string) (*Family, error) {
	f, err := scanFamily(s.db.QueryRowContext(ctx, familySelect+` WHERE f.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying family: %w", err)
	}
	return f, nil
}

// GetFamilyBySlug retrieves a family by its URL slug.
// Returns ErrNotFound if no family has that slug.
func (s *SQLiteStore) GetFamilyBySlug(ctx context.Context, slug string) (*Family, error) {
	f, err := scanFamily(s.db.QueryRowContext(ctx, familySelect+` WHERE f.slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying family by slug: %w", err)
	}
	return f, nil
}

// ListFamilies returns all families ordered by slug.
func (s *SQLiteStore) ListFamilies(ctx context.Context) ([]*Family, error) {
	rows, err := s.db.QueryContext(ctx, familySelect+` ORDER BY f.slug`)
	if err != nil {
		return nil, fmt.Errorf("querying families: %w", err)
	}
	defer rows.Close()

	var families []*Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning family: %w", err)
		}
		families = append(families, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating families: %w", err)
	}
	return families, nil
}

// CreateAccount stores a new account. IDs are generated when empty.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, verified, beta_participant, trial_ends,
			plan_expires, plan_type, closed, family_id, caretaker_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		boolInt(account.Verified),
		boolInt(account.BetaParticipant),
		nullTime(account.TrialEnds),
		nullTime(account.PlanExpires),
		nullString(account.PlanType),
		boolInt(account.Closed),
		nullString(account.FamilyID),
		nullString(account.CaretakerID),
		account.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	s.logger.Debug("created account", "id", account.ID)
	return nil
}

const accountSelect = `
	SELECT a.id, a.email, a.password_hash, a.verified, a.beta_participant, a.trial_ends,
		a.plan_expires, a.plan_type, a.closed, a.family_id, a.caretaker_id, a.created_at,
		f.id, f.slug, f.name, f.auth_mode, f.system_pin_hash, f.account_id, f.created_at,
		o.id, o.beta_participant, o.trial_ends, o.plan_expires, o.plan_type, o.closed,
		c.id, c.family_id, c.login_id, c.name, c.type, c.role, c.pin_hash, c.inactive, c.deleted, c.created_at
	FROM accounts a
	LEFT JOIN families f ON f.id = a.family_id
	LEFT JOIN accounts o ON o.id = f.account_id
	LEFT JOIN caretakers c ON c.id = a.caretaker_id
`

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var trialEnds, planExpires, planType, familyID, caretakerID sql.NullString
	var createdAtStr string

	var fID, fSlug, fName, fMode, fPIN, fAccount, fCreated sql.NullString
	var owner nullSubscription

	var cID, cFamily, cLogin, cName, cType, cRole, cPIN, cCreated sql.NullString
	var cInactive, cDeleted sql.NullBool

	dest := []any{
		&a.ID, &a.Email, &a.PasswordHash, &a.Verified, &a.BetaParticipant, &trialEnds,
		&planExpires, &planType, &a.Closed, &familyID, &caretakerID, &createdAtStr,
		&fID, &fSlug, &fName, &fMode, &fPIN, &fAccount, &fCreated,
	}
	dest = append(dest, owner.dest()...)
	dest = append(dest, &cID, &cFamily, &cLogin, &cName, &cType, &cRole, &cPIN, &cInactive, &cDeleted, &cCreated)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	a.PlanType = planType.String
	a.FamilyID = familyID.String
	a.CaretakerID = caretakerID.String
	if a.TrialEnds, err = parseNullTime(trialEnds); err != nil {
		return nil, fmt.Errorf("parsing trial_ends: %w", err)
	}
	if a.PlanExpires, err = parseNullTime(planExpires); err != nil {
		return nil, fmt.Errorf("parsing plan_expires: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if fID.Valid {
		a.Family = &Family{
			ID:            fID.String,
			Slug:          fSlug.String,
			Name:          fName.String,
			AuthMode:      fMode.String,
			SystemPINHash: fPIN.String,
			AccountID:     fAccount.String,
		}
		if a.Family.CreatedAt, err = time.Parse(time.RFC3339, fCreated.String); err != nil {
			return nil, fmt.Errorf("parsing family created_at: %w", err)
		}
		if a.Family.Owner, err = owner.subscription(); err != nil {
			return nil, err
		}
	}

	if cID.Valid {
		a.Caretaker = &Caretaker{
			ID:       cID.String,
			FamilyID: cFamily.String,
			LoginID:  cLogin.String,
			Name:     cName.String,
			Type:     cType.String,
			Role:     cRole.String,
			PINHash:  cPIN.String,
			Inactive: cInactive.Bool,
			Deleted:  cDeleted.Bool,
		}
		if a.Caretaker.CreatedAt, err = time.Parse(time.RFC3339, cCreated.String); err != nil {
			return nil, fmt.Errorf("parsing caretaker created_at: %w", err)
		}
	}

	return &a, nil
}

// GetAccount retrieves an account together with its family and linked caretaker.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE a.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail retrieves an account by its login email.
// Returns ErrNotFound if no account uses that email.
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, accountSelect+` WHERE a.email = ?`, email))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by email: %w", err)
	}
	return a, nil
}

// CreateCaretaker stores a new caretaker. IDs are generated when empty.
func (s *SQLiteStore) CreateCaretaker(ctx context.Context, caretaker *Caretaker) error {
	if err := insertCaretaker(ctx, s.db, caretaker); err != nil {
		return err
	}
	s.logger.Debug("created caretaker", "id", caretaker.ID, "family_id", caretaker.FamilyID)
	return nil
}

func insertCaretaker(ctx context.Context, ex execer, caretaker *Caretaker) error {
	if caretaker.ID == "" {
		caretaker.ID = uuid.New().String()
	}
	if caretaker.Role == "" {
		caretaker.Role = "USER"
	}
	if caretaker.CreatedAt.IsZero() {
		caretaker.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO caretakers (id, family_id, login_id, name, type, role, pin_hash, inactive, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, query,
		caretaker.ID,
		caretaker.FamilyID,
		caretaker.LoginID,
		caretaker.Name,
		caretaker.Type,
		caretaker.Role,
		caretaker.PINHash,
		boolInt(caretaker.Inactive),
		boolInt(caretaker.Deleted),
		caretaker.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting caretaker: %w", err)
	}
	return nil
}

const caretakerSelect = `
	SELECT id, family_id, login_id, name, type, role, pin_hash, inactive, deleted, created_at
	FROM caretakers
`

func scanCaretaker(row rowScanner) (*Caretaker, error) {
	var c Caretaker
	var createdAtStr string
	err := row.Scan(&c.ID, &c.FamilyID, &c.LoginID, &c.Name, &c.Type, &c.Role,
		&c.PINHash, &c.Inactive, &c.Deleted, &createdAtStr)
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// GetCaretaker retrieves a caretaker by ID, including inactive and deleted ones.
// Returns ErrNotFound if the caretaker doesn't exist.
func (s *SQLiteStore) GetCaretaker(ctx context.Context, id string) (*Caretaker, error) {
	c, err := scanCaretaker(s.db.QueryRowContext(ctx, caretakerSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying caretaker: %w", err)
	}
	return c, nil
}

// GetCaretakerByLogin retrieves a caretaker by family and login id.
// Returns ErrNotFound if no such caretaker exists.
func (s *SQLiteStore) GetCaretakerByLogin(ctx context.Context, familyID, loginID string) (*Caretaker, error) {
	c, err := scanCaretaker(s.db.QueryRowContext(ctx,
		caretakerSelect+` WHERE family_id = ? AND login_id = ?`, familyID, loginID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying caretaker by login: %w", err)
	}
	return c, nil
}

// CountActiveCaretakers counts the family's active, non-deleted caretakers,
// excluding the system caretaker.
func (s *SQLiteStore) CountActiveCaretakers(ctx context.Context, familyID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM caretakers
		WHERE family_id = ? AND login_id != ? AND inactive = 0 AND deleted = 0
	`
	var n int
	if err := s.db.QueryRowContext(ctx, query, familyID, SystemLoginID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting caretakers: %w", err)
	}
	return n, nil
}

// CreateSetupToken stores a new setup token.
func (s *SQLiteStore) CreateSetupToken(ctx context.Context, token *SetupToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO setup_tokens (token, family_id, password_hash, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.Token,
		nullString(token.FamilyID),
		token.PasswordHash,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		boolInt(token.Used),
		token.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting setup token: %w", err)
	}

	s.logger.Debug("created setup token", "family_id", token.FamilyID)
	return nil
}

// GetSetupToken retrieves a setup token record.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) GetSetupToken(ctx context.Context, token string) (*SetupToken, error) {
	query := `
		SELECT token, family_id, password_hash, expires_at, used, created_at
		FROM setup_tokens
		WHERE token = ?
	`

	var st SetupToken
	var familyID sql.NullString
	var expiresAtStr, createdAtStr string

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&st.Token,
		&familyID,
		&st.PasswordHash,
		&expiresAtStr,
		&st.Used,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying setup token: %w", err)
	}

	st.FamilyID = familyID.String
	if st.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &st, nil
}

// ProvisionFamily creates a family and its system caretaker in one
// transaction. When p.SetupToken is set the token is consumed in the same
// transaction; a token that is already used returns ErrSetupTokenUsed and
// nothing is written.
func (s *SQLiteStore) ProvisionFamily(ctx context.Context, p Provisioning) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning provisioning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if p.SetupToken != "" {
		result, err := tx.ExecContext(ctx,
			`UPDATE setup_tokens SET used = 1 WHERE token = ? AND used = 0`, p.SetupToken)
		if err != nil {
			return fmt.Errorf("consuming setup token: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return ErrSetupTokenUsed
		}
	}

	if err := insertFamily(ctx, tx, p.Family); err != nil {
		return err
	}
	p.System.FamilyID = p.Family.ID
	if err := insertCaretaker(ctx, tx, p.System); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing provisioning: %w", err)
	}

	s.logger.Debug("provisioned family", "id", p.Family.ID, "slug", p.Family.Slug)
	return nil
}
