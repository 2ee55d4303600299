// Package store provides in-memory enrollment.TxStore implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/warp/registration-engine/enrollment"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by one mutex. Values are cloned on
// the way in and out so callers never share pointers with the store.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

type data struct {
	coupons       map[string]*enrollment.Coupon
	registrations map[enrollment.RegistrationID]*enrollment.Registration
	users         map[enrollment.UserID]*enrollment.UserAccount
	usersByEmail  map[string]enrollment.UserID
}

func newData() *data {
	return &data{
		coupons:       make(map[string]*enrollment.Coupon),
		registrations: make(map[enrollment.RegistrationID]*enrollment.Registration),
		users:         make(map[enrollment.UserID]*enrollment.UserAccount),
		usersByEmail:  make(map[string]enrollment.UserID),
	}
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

var _ enrollment.TxStore = (*Memory)(nil)

// ---- coupons ----

func (m *Memory) CreateCoupon(_ context.Context, c enrollment.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.createCoupon(c)
}

func (m *Memory) GetCoupon(_ context.Context, code string) (*enrollment.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getCoupon(code)
}

func (m *Memory) ListCoupons(_ context.Context) ([]enrollment.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listCoupons(), nil
}

func (m *Memory) SetCouponActive(_ context.Context, code string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.setCouponActive(code, active)
}

func (m *Memory) IncrementCouponUsage(_ context.Context, code string) (*enrollment.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.incrementCouponUsage(code)
}

// ---- registrations ----

func (m *Memory) CreateRegistration(_ context.Context, r *enrollment.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.createRegistration(r)
}

func (m *Memory) GetRegistration(_ context.Context, id enrollment.RegistrationID) (*enrollment.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getRegistration(id)
}

func (m *Memory) ListRegistrations(_ context.Context, filter enrollment.RegistrationFilter) ([]enrollment.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listRegistrations(filter), nil
}

func (m *Memory) UpdateRegistration(_ context.Context, r *enrollment.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateRegistration(r)
}

func (m *Memory) DeleteRegistration(_ context.Context, id enrollment.RegistrationID, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.deleteRegistration(id, version)
}

// ---- users ----

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*enrollment.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.findUserByEmail(email), nil
}

func (m *Memory) GetUser(_ context.Context, id enrollment.UserID) (*enrollment.UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.users[id].Clone(), nil
}

func (m *Memory) CreateUser(_ context.Context, u *enrollment.UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.createUser(u)
}

func (m *Memory) AddUserRole(_ context.Context, id enrollment.UserID, role enrollment.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.addUserRole(id, role)
}

func (m *Memory) LinkUserRegistration(_ context.Context, id enrollment.UserID, registrationID enrollment.RegistrationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.linkUserRegistration(id, registrationID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the write lock.
// Simulated with a snapshot + restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(enrollment.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(&txView{d: m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// Reset deletes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

// txView operates on the data directly; the caller holds the lock.
type txView struct {
	d *data
}

func (v *txView) CreateCoupon(_ context.Context, c enrollment.Coupon) error {
	return v.d.createCoupon(c)
}

func (v *txView) GetCoupon(_ context.Context, code string) (*enrollment.Coupon, error) {
	return v.d.getCoupon(code)
}

func (v *txView) ListCoupons(_ context.Context) ([]enrollment.Coupon, error) {
	return v.d.listCoupons(), nil
}

func (v *txView) SetCouponActive(_ context.Context, code string, active bool) error {
	return v.d.setCouponActive(code, active)
}

func (v *txView) IncrementCouponUsage(_ context.Context, code string) (*enrollment.Coupon, error) {
	return v.d.incrementCouponUsage(code)
}

func (v *txView) CreateRegistration(_ context.Context, r *enrollment.Registration) error {
	return v.d.createRegistration(r)
}

func (v *txView) GetRegistration(_ context.Context, id enrollment.RegistrationID) (*enrollment.Registration, error) {
	return v.d.getRegistration(id)
}

func (v *txView) ListRegistrations(_ context.Context, filter enrollment.RegistrationFilter) ([]enrollment.Registration, error) {
	return v.d.listRegistrations(filter), nil
}

func (v *txView) UpdateRegistration(_ context.Context, r *enrollment.Registration) error {
	return v.d.updateRegistration(r)
}

func (v *txView) DeleteRegistration(_ context.Context, id enrollment.RegistrationID, version int64) error {
	return v.d.deleteRegistration(id, version)
}

func (v *txView) FindUserByEmail(_ context.Context, email string) (*enrollment.UserAccount, error) {
	return v.d.findUserByEmail(email), nil
}

func (v *txView) GetUser(_ context.Context, id enrollment.UserID) (*enrollment.UserAccount, error) {
	return v.d.users[id].Clone(), nil
}

func (v *txView) CreateUser(_ context.Context, u *enrollment.UserAccount) error {
	return v.d.createUser(u)
}

func (v *txView) AddUserRole(_ context.Context, id enrollment.UserID, role enrollment.Role) error {
	return v.d.addUserRole(id, role)
}

func (v *txView) LinkUserRegistration(_ context.Context, id enrollment.UserID, registrationID enrollment.RegistrationID) error {
	return v.d.linkUserRegistration(id, registrationID)
}

// =============================================================================
// LOCKED OPERATIONS - caller holds the lock
// =============================================================================

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.coupons {
		c.coupons[k] = v.Clone()
	}
	for k, v := range d.registrations {
		c.registrations[k] = v.Clone()
	}
	for k, v := range d.users {
		c.users[k] = v.Clone()
	}
	for k, v := range d.usersByEmail {
		c.usersByEmail[k] = v
	}
	return c
}

func (d *data) createCoupon(c enrollment.Coupon) error {
	code := enrollment.NormalizeCode(c.Code)
	if _, ok := d.coupons[code]; ok {
		return enrollment.ErrDuplicateCoupon
	}
	c.Code = code
	d.coupons[code] = c.Clone()
	return nil
}

func (d *data) getCoupon(code string) (*enrollment.Coupon, error) {
	c, ok := d.coupons[enrollment.NormalizeCode(code)]
	if !ok {
		return nil, enrollment.ErrCouponNotFound
	}
	return c.Clone(), nil
}

func (d *data) listCoupons() []enrollment.Coupon {
	out := make([]enrollment.Coupon, 0, len(d.coupons))
	for _, c := range d.coupons {
		out = append(out, *c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (d *data) setCouponActive(code string, active bool) error {
	c, ok := d.coupons[enrollment.NormalizeCode(code)]
	if !ok {
		return enrollment.ErrCouponNotFound
	}
	c.Active = active
	return nil
}

func (d *data) incrementCouponUsage(code string) (*enrollment.Coupon, error) {
	c, ok := d.coupons[enrollment.NormalizeCode(code)]
	if !ok {
		return nil, enrollment.ErrCouponNotFound
	}
	if c.IsExhausted() {
		return nil, enrollment.ErrLimitReached
	}
	c.UsageCount++
	return c.Clone(), nil
}

func (d *data) createRegistration(r *enrollment.Registration) error {
	if _, ok := d.registrations[r.ID]; ok {
		return fmt.Errorf("registration %s already exists: %w", r.ID, enrollment.ErrConflict)
	}
	r.Version = 1
	d.registrations[r.ID] = r.Clone()
	return nil
}

func (d *data) getRegistration(id enrollment.RegistrationID) (*enrollment.Registration, error) {
	r, ok := d.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration %s: %w", id, enrollment.ErrRegistrationNotFound)
	}
	return r.Clone(), nil
}

func (d *data) listRegistrations(filter enrollment.RegistrationFilter) []enrollment.Registration {
	out := make([]enrollment.Registration, 0, len(d.registrations))
	for _, r := range d.registrations {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Program != "" && !strings.EqualFold(r.Program, filter.Program) {
			continue
		}
		out = append(out, *r.Clone())
	}
	// Newest first, ties broken by id for a stable order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []enrollment.Registration{}
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

func (d *data) updateRegistration(r *enrollment.Registration) error {
	stored, ok := d.registrations[r.ID]
	if !ok {
		return fmt.Errorf("registration %s: %w", r.ID, enrollment.ErrRegistrationNotFound)
	}
	if stored.Version != r.Version {
		return fmt.Errorf("registration %s: version %d, stored %d: %w", r.ID, r.Version, stored.Version, enrollment.ErrConflict)
	}
	r.Version++
	d.registrations[r.ID] = r.Clone()
	return nil
}

func (d *data) deleteRegistration(id enrollment.RegistrationID, version int64) error {
	stored, ok := d.registrations[id]
	if !ok {
		return fmt.Errorf("registration %s: %w", id, enrollment.ErrRegistrationNotFound)
	}
	if stored.Version != version {
		return fmt.Errorf("registration %s: version %d, stored %d: %w", id, version, stored.Version, enrollment.ErrConflict)
	}
	if err := stored.CheckMutable(); err != nil {
		return err
	}
	delete(d.registrations, id)
	return nil
}

func (d *data) findUserByEmail(email string) *enrollment.UserAccount {
	id, ok := d.usersByEmail[enrollment.NormalizeEmail(email)]
	if !ok {
		return nil
	}
	return d.users[id].Clone()
}

func (d *data) createUser(u *enrollment.UserAccount) error {
	email := enrollment.NormalizeEmail(u.Email)
	if _, ok := d.usersByEmail[email]; ok {
		return fmt.Errorf("user with email %s already exists: %w", email, enrollment.ErrConflict)
	}
	if _, ok := d.users[u.ID]; ok {
		return fmt.Errorf("user %s already exists: %w", u.ID, enrollment.ErrConflict)
	}
	stored := u.Clone()
	stored.Email = email
	d.users[u.ID] = stored
	d.usersByEmail[email] = u.ID
	return nil
}

func (d *data) addUserRole(id enrollment.UserID, role enrollment.Role) error {
	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	if !u.HasRole(role) {
		u.Roles = append(u.Roles, role)
	}
	return nil
}

func (d *data) linkUserRegistration(id enrollment.UserID, registrationID enrollment.RegistrationID) error {
	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	if !slices.Contains(u.Registrations, registrationID) {
		u.Registrations = append(u.Registrations, registrationID)
	}
	return nil
}
