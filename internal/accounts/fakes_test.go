package accounts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congregate/congregate/internal/identity"
	"github.com/congregate/congregate/internal/rbac"
	"github.com/congregate/congregate/internal/shared"
)

type memRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
	hashes   map[uuid.UUID]string
	writeErr error
}

func newMemRepo() *memRepo {
	return &memRepo{accounts: make(map[uuid.UUID]Account), hashes: make(map[uuid.UUID]string)}
}

func (m *memRepo) seed(idNumber, email string) Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := Account{ID: uuid.New(), IDNumber: idNumber, FirstNames: "Seed", LastNames: "Member", Role: rbac.RoleUsuario, CreatedAt: time.Now()}
	if email != "" {
		a.Email = &email
	}
	m.accounts[a.ID] = a
	return a
}

func (m *memRepo) seedRole(idNumber, email string, role rbac.Role) Account {
	a := m.seed(idNumber, email)
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Role = role
	m.accounts[a.ID] = a
	return a
}

func callerCtx(role rbac.Role) context.Context {
	return rbac.ContextWithPrincipal(context.Background(), rbac.Principal{AccountID: uuid.NewString(), Role: role})
}

func (m *memRepo) byIDNumber(idNumber string) (Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IDNumber == idNumber {
			return a, true
		}
	}
	return Account{}, false
}

func (m *memRepo) emailTaken(email *string, self uuid.UUID) bool {
	if email == nil {
		return false
	}
	for _, a := range m.accounts {
		if a.ID != self && a.Email != nil && strings.EqualFold(*a.Email, *email) {
			return true
		}
	}
	return false
}

func apply(a Account, in AccountInput) Account {
	a.IDNumber = in.IDNumber
	a.FirstNames = in.FirstNames
	a.LastNames = in.LastNames
	a.Email = in.Email
	a.Phone = in.Phone
	a.Address = in.Address
	a.WhatsApp = in.WhatsApp
	a.BaptismDate = in.BaptismDate
	a.Baptized = in.Baptized
	a.UpdatedAt = time.Now()
	return a
}

func (m *memRepo) List(ctx context.Context, filter ListFilter) ([]Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Account{}
	for _, a := range m.accounts {
		if filter.Search == "" || strings.Contains(strings.ToLower(a.FirstNames+" "+a.LastNames), strings.ToLower(filter.Search)) {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memRepo) FindByIDNumber(ctx context.Context, idNumber string) (Account, error) {
	if a, ok := m.byIDNumber(idNumber); ok {
		return a, nil
	}
	return Account{}, shared.ErrNotFound
}

func (m *memRepo) FindByEmail(ctx context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email != nil && strings.EqualFold(*a.Email, email) {
			return a, nil
		}
	}
	return Account{}, shared.ErrNotFound
}

func (m *memRepo) Insert(ctx context.Context, in AccountInput, passwordHash string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return Account{}, m.writeErr
	}
	if m.emailTaken(in.Email, uuid.Nil) {
		return Account{}, shared.ErrDuplicate
	}
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	a := apply(Account{ID: id, Role: rbac.RoleUsuario, CreatedAt: time.Now()}, in)
	m.accounts[a.ID] = a
	m.hashes[a.ID] = passwordHash
	return a, nil
}

func (m *memRepo) Update(ctx context.Context, id uuid.UUID, in AccountInput) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	if m.emailTaken(in.Email, id) {
		return Account{}, shared.ErrDuplicate
	}
	a = apply(a, in)
	m.accounts[id] = a
	return a, nil
}

func (m *memRepo) Delete(ctx context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	delete(m.accounts, id)
	return a, nil
}

func (m *memRepo) UpsertByIDNumber(ctx context.Context, in AccountInput, passwordHash string) (Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.IDNumber == in.IDNumber {
			if m.emailTaken(in.Email, id) {
				return Account{}, false, shared.ErrDuplicate
			}
			a = apply(a, in)
			m.accounts[id] = a
			return a, false, nil
		}
	}
	if m.emailTaken(in.Email, uuid.Nil) {
		return Account{}, false, shared.ErrDuplicate
	}
	a := apply(Account{ID: uuid.New(), Role: rbac.RoleUsuario, CreatedAt: time.Now()}, in)
	m.accounts[a.ID] = a
	m.hashes[a.ID] = passwordHash
	return a, true, nil
}

type fakeIDP struct {
	mu        sync.Mutex
	accounts  map[string]identity.Account
	created   []identity.NewAccount
	updated   map[string]string
	deleted   []string
	failWrite error
	failList  error
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{accounts: make(map[string]identity.Account), updated: make(map[string]string)}
}

func (f *fakeIDP) add(email string) identity.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := identity.Account{ID: uuid.NewString(), Email: email}
	f.accounts[email] = acc
	return acc
}

func (f *fakeIDP) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]identity.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeIDP) FindAccountByEmail(ctx context.Context, email string) (identity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return identity.Account{}, f.failList
	}
	acc, ok := f.accounts[strings.ToLower(email)]
	if !ok {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	return acc, nil
}

func (f *fakeIDP) CreateAccount(ctx context.Context, na identity.NewAccount) (identity.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return identity.Account{}, f.failWrite
	}
	if _, ok := f.accounts[na.Email]; ok {
		return identity.Account{}, identity.ErrAlreadyRegistered
	}
	acc := identity.Account{ID: uuid.NewString(), Email: na.Email, Metadata: na.Metadata}
	f.accounts[na.Email] = acc
	f.created = append(f.created, na)
	return acc, nil
}

func (f *fakeIDP) UpdateAccountEmail(ctx context.Context, id, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	for old, acc := range f.accounts {
		if acc.ID == id {
			delete(f.accounts, old)
			acc.Email = email
			f.accounts[email] = acc
			f.updated[old] = email
			return nil
		}
	}
	return identity.ErrAccountNotFound
}

func (f *fakeIDP) DeleteAccount(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return f.failWrite
	}
	for email, acc := range f.accounts {
		if acc.ID == id {
			delete(f.accounts, email)
			f.deleted = append(f.deleted, email)
			return nil
		}
	}
	return identity.ErrAccountNotFound
}

type fakeQueue struct {
	mu      sync.Mutex
	deletes []string
	syncs   [][2]string
	err     error
}

func (q *fakeQueue) EnqueueIdentityDelete(ctx context.Context, email string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.deletes = append(q.deletes, email)
	return nil
}

func (q *fakeQueue) EnqueueIdentityEmailSync(ctx context.Context, oldEmail, newEmail string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.syncs = append(q.syncs, [2]string{oldEmail, newEmail})
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	k := module + "|" + key
	if _, ok := m.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"|"+key)
	return nil
}

var errProviderDown = errors.New("identity: provider unavailable: 502")

type serviceFixture struct {
	repo  *memRepo
	idp   *fakeIDP
	queue *fakeQueue
	idem  *memIdempotency
	svc   *Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{repo: newMemRepo(), idp: newFakeIDP(), queue: &fakeQueue{}, idem: &memIdempotency{}}
	f.svc = NewService(f.repo, f.idp, f.queue, nil, f.idem, nil)
	f.svc.hashCost = bcrypt.MinCost
	return f
}
