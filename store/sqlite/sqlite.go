/*
Package sqlite provides a SQLite-backed implementation of enrollment.TxStore.

PURPOSE:
  Persists coupons, registrations and the user-account slice the
  provisioning step touches. The same statements run on PostgreSQL with
  minor dialect changes.

KEY TABLES:
  coupons:            Coupon definitions and usage counters
  registrations:      Candidate registrations, review record, provisioning link
  users:              User accounts (email unique, lower-cased)
  user_roles:         Role set per user
  user_registrations: User-to-registration links (one user per registration)

CONCURRENCY:
  - Coupon redemption is one conditional UPDATE:
      usage_count = usage_count + 1
      WHERE code = ? AND (usage_limit IS NULL OR usage_count < usage_limit)
    Zero rows affected means the limit was met (or the code is unknown).
  - Registration writes carry WHERE version = ? and bump the version.
  - DELETE refuses approved rows in the statement itself.
  - A sync.RWMutex serializes writers, as SQLite allows one writer anyway.

ERRORS:
  Driver failures are returned as enrollment.UnavailableError. Unique
  constraint violations map to domain errors (DuplicateCoupon, Conflict).

USAGE:
  store, err := sqlite.New("./data/registrations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - enrollment/store.go: Interface definitions
  - enrollment/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/registration-engine/enrollment"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements enrollment.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ enrollment.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an already-migrated database handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return enrollment.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		discount_type TEXT NOT NULL,
		discount_value TEXT NOT NULL,
		min_purchase TEXT,
		max_discount TEXT,
		usage_limit INTEGER,
		usage_count INTEGER NOT NULL DEFAULT 0,
		valid_from TEXT,
		valid_until TEXT,
		program TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (usage_limit IS NULL OR usage_count <= usage_limit)
	);

	CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		birth_date TEXT NOT NULL,
		gender TEXT NOT NULL,
		guardian_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT NOT NULL,
		address TEXT NOT NULL,
		previous_school TEXT NOT NULL DEFAULT '',
		program TEXT NOT NULL,
		coupon_code TEXT REFERENCES coupons(code),
		base_price TEXT NOT NULL,
		discount TEXT NOT NULL,
		payable TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		review_notes TEXT,
		reviewed_by TEXT,
		reviewed_at TEXT,
		linked_user_id TEXT,
		provision_outcome TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_status
		ON registrations(status);
	CREATE INDEX IF NOT EXISTS idx_registrations_program
		ON registrations(program);
	CREATE INDEX IF NOT EXISTS idx_registrations_created
		ON registrations(created_at DESC);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		must_change_password BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	);

	CREATE TABLE IF NOT EXISTS user_registrations (
		user_id TEXT NOT NULL REFERENCES users(id),
		registration_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, registration_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) conn() queries { return queries{q: s.db} }

func (s *Store) CreateCoupon(ctx context.Context, c enrollment.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().CreateCoupon(ctx, c)
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*enrollment.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetCoupon(ctx, code)
}

func (s *Store) ListCoupons(ctx context.Context) ([]enrollment.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListCoupons(ctx)
}

func (s *Store) SetCouponActive(ctx context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().SetCouponActive(ctx, code, active)
}

func (s *Store) IncrementCouponUsage(ctx context.Context, code string) (*enrollment.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().IncrementCouponUsage(ctx, code)
}

func (s *Store) CreateRegistration(ctx context.Context, r *enrollment.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().CreateRegistration(ctx, r)
}

func (s *Store) GetRegistration(ctx context.Context, id enrollment.RegistrationID) (*enrollment.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetRegistration(ctx, id)
}

func (s *Store) ListRegistrations(ctx context.Context, filter enrollment.RegistrationFilter) ([]enrollment.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().ListRegistrations(ctx, filter)
}

func (s *Store) UpdateRegistration(ctx context.Context, r *enrollment.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().UpdateRegistration(ctx, r)
}

func (s *Store) DeleteRegistration(ctx context.Context, id enrollment.RegistrationID, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().DeleteRegistration(ctx, id, version)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*enrollment.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().FindUserByEmail(ctx, email)
}

func (s *Store) GetUser(ctx context.Context, id enrollment.UserID) (*enrollment.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn().GetUser(ctx, id)
}

func (s *Store) CreateUser(ctx context.Context, u *enrollment.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().CreateUser(ctx, u)
}

func (s *Store) AddUserRole(ctx context.Context, id enrollment.UserID, role enrollment.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().AddUserRole(ctx, id, role)
}

func (s *Store) LinkUserRegistration(ctx context.Context, id enrollment.UserID, registrationID enrollment.RegistrationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn().LinkUserRegistration(ctx, id, registrationID)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store enrollment.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return enrollment.Unavailable("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return enrollment.Unavailable("commit transaction", err)
	}
	return nil
}

// Reset deletes all data (for testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"user_registrations", "user_roles", "users", "registrations", "coupons"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return enrollment.Unavailable("reset "+table, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - run against *sql.DB or *sql.Tx; locking is the caller's job
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// ---- coupons ----

const couponColumns = `code, name, description, discount_type, discount_value, min_purchase,
	max_discount, usage_limit, usage_count, valid_from, valid_until, program, active,
	created_at, updated_at`

func (x queries) CreateCoupon(ctx context.Context, c enrollment.Coupon) error {
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		enrollment.NormalizeCode(c.Code),
		c.Name,
		c.Description,
		string(c.DiscountType),
		c.DiscountValue.String(),
		nullMoney(c.MinPurchase),
		nullMoney(c.MaxDiscount),
		nullInt(c.UsageLimit),
		c.UsageCount,
		nullTime(c.ValidFrom),
		nullTime(c.ValidUntil),
		nullStringPtr(c.Program),
		c.Active,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return enrollment.ErrDuplicateCoupon
		}
		return enrollment.Unavailable("create coupon", err)
	}
	return nil
}

func (x queries) GetCoupon(ctx context.Context, code string) (*enrollment.Coupon, error) {
	row := x.q.QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE code = ?",
		enrollment.NormalizeCode(code),
	)
	c, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, enrollment.ErrCouponNotFound
	}
	if err != nil {
		return nil, enrollment.Unavailable("get coupon", err)
	}
	return c, nil
}

func (x queries) ListCoupons(ctx context.Context) ([]enrollment.Coupon, error) {
	rows, err := x.q.QueryContext(ctx, "SELECT "+couponColumns+" FROM coupons ORDER BY code")
	if err != nil {
		return nil, enrollment.Unavailable("list coupons", err)
	}
	defer rows.Close()

	coupons := []enrollment.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, enrollment.Unavailable("scan coupon", err)
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, enrollment.Unavailable("list coupons", err)
	}
	return coupons, nil
}

func (x queries) SetCouponActive(ctx context.Context, code string, active bool) error {
	res, err := x.q.ExecContext(ctx,
		"UPDATE coupons SET active = ?, updated_at = ? WHERE code = ?",
		active, formatTime(time.Now()), enrollment.NormalizeCode(code),
	)
	if err != nil {
		return enrollment.Unavailable("set coupon active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return enrollment.Unavailable("set coupon active", err)
	}
	if n == 0 {
		return enrollment.ErrCouponNotFound
	}
	return nil
}

// IncrementCouponUsage is the compare-and-increment for redemption.
func (x queries) IncrementCouponUsage(ctx context.Context, code string) (*enrollment.Coupon, error) {
	normalized := enrollment.NormalizeCode(code)
	res, err := x.q.ExecContext(ctx, `
		UPDATE coupons
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE code = ? AND (usage_limit IS NULL OR usage_count < usage_limit)`,
		formatTime(time.Now()), normalized,
	)
	if err != nil {
		return nil, enrollment.Unavailable("redeem coupon", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, enrollment.Unavailable("redeem coupon", err)
	}

	c, err := x.GetCoupon(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, enrollment.ErrLimitReached
	}
	return c, nil
}

// ---- registrations ----

const registrationColumns = `id, name, birth_date, gender, guardian_name, phone, email, address,
	previous_school, program, coupon_code, base_price, discount, payable, status,
	review_notes, reviewed_by, reviewed_at, linked_user_id, provision_outcome, version,
	created_at, updated_at`

func (x queries) CreateRegistration(ctx context.Context, r *enrollment.Registration) error {
	c := r.Candidate
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID),
		c.Name,
		c.BirthDate.Format(time.DateOnly),
		string(c.Gender),
		c.GuardianName,
		c.Phone,
		c.Email,
		c.Address,
		c.PreviousSchool,
		r.Program,
		nullStringPtr(r.CouponCode),
		r.BasePrice.String(),
		r.Discount.String(),
		r.Payable.String(),
		string(r.Status),
		nullStringPtr(r.ReviewNotes),
		nullStringPtr(r.ReviewedBy),
		nullTime(r.ReviewedAt),
		nullUserID(r.LinkedUserAccountID),
		nullOutcome(r.ProvisionOutcome),
		1,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("registration %s already exists: %w", r.ID, enrollment.ErrConflict)
		}
		return enrollment.Unavailable("create registration", err)
	}
	r.Version = 1
	return nil
}

func (x queries) GetRegistration(ctx context.Context, id enrollment.RegistrationID) (*enrollment.Registration, error) {
	row := x.q.QueryRowContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations WHERE id = ?", string(id))
	r, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registration %s: %w", id, enrollment.ErrRegistrationNotFound)
	}
	if err != nil {
		return nil, enrollment.Unavailable("get registration", err)
	}
	return r, nil
}

func (x queries) ListRegistrations(ctx context.Context, filter enrollment.RegistrationFilter) ([]enrollment.Registration, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Program != "" {
		where = append(where, "program = ? COLLATE NOCASE")
		args = append(args, filter.Program)
	}

	query := "SELECT " + registrationColumns + " FROM registrations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, enrollment.Unavailable("list registrations", err)
	}
	defer rows.Close()

	regs := []enrollment.Registration{}
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, enrollment.Unavailable("scan registration", err)
		}
		regs = append(regs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, enrollment.Unavailable("list registrations", err)
	}
	return regs, nil
}

// UpdateRegistration writes every mutable column under the version check.
func (x queries) UpdateRegistration(ctx context.Context, r *enrollment.Registration) error {
	c := r.Candidate
	res, err := x.q.ExecContext(ctx, `
		UPDATE registrations SET
			name = ?, birth_date = ?, gender = ?, guardian_name = ?, phone = ?,
			email = ?, address = ?, previous_school = ?,
			status = ?, review_notes = ?, reviewed_by = ?, reviewed_at = ?,
			linked_user_id = ?, provision_outcome = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Name,
		c.BirthDate.Format(time.DateOnly),
		string(c.Gender),
		c.GuardianName,
		c.Phone,
		c.Email,
		c.Address,
		c.PreviousSchool,
		string(r.Status),
		nullStringPtr(r.ReviewNotes),
		nullStringPtr(r.ReviewedBy),
		nullTime(r.ReviewedAt),
		nullUserID(r.LinkedUserAccountID),
		nullOutcome(r.ProvisionOutcome),
		formatTime(r.UpdatedAt),
		string(r.ID),
		r.Version,
	)
	if err != nil {
		return enrollment.Unavailable("update registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return enrollment.Unavailable("update registration", err)
	}
	if n == 0 {
		stored, err := x.GetRegistration(ctx, r.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("registration %s: version %d, stored %d: %w", r.ID, r.Version, stored.Version, enrollment.ErrConflict)
	}
	r.Version++
	return nil
}

func (x queries) DeleteRegistration(ctx context.Context, id enrollment.RegistrationID, version int64) error {
	res, err := x.q.ExecContext(ctx,
		"DELETE FROM registrations WHERE id = ? AND version = ? AND status != ?",
		string(id), version, string(enrollment.StatusApproved),
	)
	if err != nil {
		return enrollment.Unavailable("delete registration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return enrollment.Unavailable("delete registration", err)
	}
	if n > 0 {
		return nil
	}

	stored, err := x.GetRegistration(ctx, id)
	if err != nil {
		return err
	}
	if stored.Version != version {
		return fmt.Errorf("registration %s: version %d, stored %d: %w", id, version, stored.Version, enrollment.ErrConflict)
	}
	return stored.CheckMutable()
}

// ---- users ----

func (x queries) FindUserByEmail(ctx context.Context, email string) (*enrollment.UserAccount, error) {
	return x.getUser(ctx, "email = ?", enrollment.NormalizeEmail(email))
}

func (x queries) GetUser(ctx context.Context, id enrollment.UserID) (*enrollment.UserAccount, error) {
	return x.getUser(ctx, "id = ?", string(id))
}

func (x queries) getUser(ctx context.Context, where string, arg any) (*enrollment.UserAccount, error) {
	var (
		u         enrollment.UserAccount
		createdAt string
	)
	err := x.q.QueryRowContext(ctx,
		"SELECT id, email, name, password_hash, must_change_password, created_at FROM users WHERE "+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.MustChangePassword, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, enrollment.Unavailable("get user", err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, enrollment.Unavailable("get user", err)
	}

	roles, err := x.column(ctx, "SELECT role FROM user_roles WHERE user_id = ? ORDER BY rowid", string(u.ID))
	if err != nil {
		return nil, enrollment.Unavailable("get user roles", err)
	}
	for _, r := range roles {
		u.Roles = append(u.Roles, enrollment.Role(r))
	}

	links, err := x.column(ctx, "SELECT registration_id FROM user_registrations WHERE user_id = ? ORDER BY rowid", string(u.ID))
	if err != nil {
		return nil, enrollment.Unavailable("get user registrations", err)
	}
	for _, id := range links {
		u.Registrations = append(u.Registrations, enrollment.RegistrationID(id))
	}
	return &u, nil
}

func (x queries) CreateUser(ctx context.Context, u *enrollment.UserAccount) error {
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, must_change_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(u.ID), enrollment.NormalizeEmail(u.Email), u.Name, u.PasswordHash,
		u.MustChangePassword, formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("user with email %s already exists: %w", u.Email, enrollment.ErrConflict)
		}
		return enrollment.Unavailable("create user", err)
	}
	for _, role := range u.Roles {
		if err := x.AddUserRole(ctx, u.ID, role); err != nil {
			return err
		}
	}
	return nil
}

func (x queries) AddUserRole(ctx context.Context, id enrollment.UserID, role enrollment.Role) error {
	_, err := x.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)",
		string(id), string(role),
	)
	if err != nil {
		return enrollment.Unavailable("add user role", err)
	}
	return nil
}

func (x queries) LinkUserRegistration(ctx context.Context, id enrollment.UserID, registrationID enrollment.RegistrationID) error {
	_, err := x.q.ExecContext(ctx,
		"INSERT INTO user_registrations (user_id, registration_id, created_at) VALUES (?, ?, ?)",
		string(id), string(registrationID), formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("registration %s is already linked: %w", registrationID, enrollment.ErrConflict)
		}
		return enrollment.Unavailable("link user registration", err)
	}
	return nil
}

func (x queries) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := x.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row scanner) (*enrollment.Coupon, error) {
	var (
		c                           enrollment.Coupon
		discountType, discountValue string
		minPurchase, maxDiscount    sql.NullString
		validFrom, validUntil       sql.NullString
		program                     sql.NullString
		usageLimit                  sql.NullInt64
		createdAt, updatedAt        string
	)
	err := row.Scan(
		&c.Code, &c.Name, &c.Description, &discountType, &discountValue,
		&minPurchase, &maxDiscount, &usageLimit, &c.UsageCount,
		&validFrom, &validUntil, &program, &c.Active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.DiscountType = enrollment.DiscountType(discountType)
	if c.DiscountValue, err = enrollment.ParseMoney(discountValue); err != nil {
		return nil, err
	}
	if c.MinPurchase, err = parseNullMoney(minPurchase); err != nil {
		return nil, err
	}
	if c.MaxDiscount, err = parseNullMoney(maxDiscount); err != nil {
		return nil, err
	}
	if usageLimit.Valid {
		n := int(usageLimit.Int64)
		c.UsageLimit = &n
	}
	if c.ValidFrom, err = parseNullTime(validFrom); err != nil {
		return nil, err
	}
	if c.ValidUntil, err = parseNullTime(validUntil); err != nil {
		return nil, err
	}
	if program.Valid {
		c.Program = &program.String
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanRegistration(row scanner) (*enrollment.Registration, error) {
	var (
		r                            enrollment.Registration
		birthDate, gender            string
		couponCode                   sql.NullString
		basePrice, discount, payable string
		status                       string
		reviewNotes, reviewedBy      sql.NullString
		reviewedAt                   sql.NullString
		linkedUser, outcome          sql.NullString
		createdAt, updatedAt         string
	)
	c := &r.Candidate
	err := row.Scan(
		&r.ID, &c.Name, &birthDate, &gender, &c.GuardianName, &c.Phone, &c.Email, &c.Address,
		&c.PreviousSchool, &r.Program, &couponCode, &basePrice, &discount, &payable, &status,
		&reviewNotes, &reviewedBy, &reviewedAt, &linkedUser, &outcome, &r.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.BirthDate, err = time.Parse(time.DateOnly, birthDate); err != nil {
		return nil, err
	}
	c.Gender = enrollment.Gender(gender)
	if couponCode.Valid {
		r.CouponCode = &couponCode.String
	}
	if r.BasePrice, err = enrollment.ParseMoney(basePrice); err != nil {
		return nil, err
	}
	if r.Discount, err = enrollment.ParseMoney(discount); err != nil {
		return nil, err
	}
	if r.Payable, err = enrollment.ParseMoney(payable); err != nil {
		return nil, err
	}
	if r.Status, err = enrollment.ParseStatus(status); err != nil {
		return nil, err
	}
	if reviewNotes.Valid {
		r.ReviewNotes = &reviewNotes.String
	}
	if reviewedBy.Valid {
		r.ReviewedBy = &reviewedBy.String
	}
	if r.ReviewedAt, err = parseNullTime(reviewedAt); err != nil {
		return nil, err
	}
	if linkedUser.Valid {
		id := enrollment.UserID(linkedUser.String)
		r.LinkedUserAccountID = &id
	}
	if outcome.Valid {
		o, err := enrollment.ParseProvisionOutcome(outcome.String)
		if err != nil {
			return nil, err
		}
		r.ProvisionOutcome = &o
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullMoney(m *enrollment.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func parseNullMoney(s sql.NullString) (*enrollment.Money, error) {
	if !s.Valid {
		return nil, nil
	}
	m, err := enrollment.ParseMoney(s.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullUserID(id *enrollment.UserID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullOutcome(o *enrollment.ProvisionOutcome) sql.NullString {
	if o == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*o), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
