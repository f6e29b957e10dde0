package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"assetdesk.org/internal/ids"
)

// Memory implements Store with in-process concurrency safety. Transactions
// hold the write lock and work on a copy that replaces the live data only
// when fn succeeds.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

var (
	_ Store = (*Memory)(nil)
	_ Store = memView{}
)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

type memData struct {
	users    map[string]User
	byEmail  map[string]string
	assets   map[string]Asset
	requests map[string]Request
}

func newMemData() *memData {
	return &memData{
		users:    make(map[string]User),
		byEmail:  make(map[string]string),
		assets:   make(map[string]Asset),
		requests: make(map[string]Request),
	}
}

func (d *memData) clone() *memData {
	out := newMemData()
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range d.assets {
		out.assets[k] = v
	}
	for k, v := range d.requests {
		out.requests[k] = cloneRequest(v)
	}
	return out
}

func cloneRequest(r Request) Request {
	if r.Quantity != nil {
		q := *r.Quantity
		r.Quantity = &q
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		r.ProcessedAt = &t
	}
	return r
}

func (m *Memory) read(fn func(v memView) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memView{m.data})
}

func (m *Memory) write(fn func(v memView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memView{m.data})
}

// WithinTx implements Store.
func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.data.clone()
	if err := fn(ctx, memView{work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) CreateUser(ctx context.Context, u *User) error {
	return m.write(func(v memView) error { return v.CreateUser(ctx, u) })
}

func (m *Memory) FindUser(ctx context.Context, id string) (out User, err error) {
	err = m.read(func(v memView) error { out, err = v.FindUser(ctx, id); return err })
	return out, err
}

func (m *Memory) FindUserByEmail(ctx context.Context, email string) (out User, err error) {
	err = m.read(func(v memView) error { out, err = v.FindUserByEmail(ctx, email); return err })
	return out, err
}

func (m *Memory) ListUsers(ctx context.Context, f UserFilter) (out []User, err error) {
	err = m.read(func(v memView) error { out, err = v.ListUsers(ctx, f); return err })
	return out, err
}

func (m *Memory) CountUsers(ctx context.Context, f UserFilter) (n int, err error) {
	err = m.read(func(v memView) error { n, err = v.CountUsers(ctx, f); return err })
	return n, err
}

func (m *Memory) UpdateUser(ctx context.Context, id string, upd UserUpdate) (out User, err error) {
	err = m.write(func(v memView) error { out, err = v.UpdateUser(ctx, id, upd); return err })
	return out, err
}

func (m *Memory) CreateAsset(ctx context.Context, a *Asset) error {
	return m.write(func(v memView) error { return v.CreateAsset(ctx, a) })
}

func (m *Memory) FindAsset(ctx context.Context, id string) (out Asset, err error) {
	err = m.read(func(v memView) error { out, err = v.FindAsset(ctx, id); return err })
	return out, err
}

func (m *Memory) ListAssets(ctx context.Context, q AssetQuery) (out []Asset, err error) {
	err = m.read(func(v memView) error { out, err = v.ListAssets(ctx, q); return err })
	return out, err
}

func (m *Memory) UpdateAsset(ctx context.Context, id string, upd AssetUpdate) (out Asset, err error) {
	err = m.write(func(v memView) error { out, err = v.UpdateAsset(ctx, id, upd); return err })
	return out, err
}

func (m *Memory) DeleteAsset(ctx context.Context, id string) error {
	return m.write(func(v memView) error { return v.DeleteAsset(ctx, id) })
}

func (m *Memory) AssetTotals(ctx context.Context) (out AssetTotals, err error) {
	err = m.read(func(v memView) error { out, err = v.AssetTotals(ctx); return err })
	return out, err
}

func (m *Memory) CreateRequest(ctx context.Context, r *Request) error {
	return m.write(func(v memView) error { return v.CreateRequest(ctx, r) })
}

func (m *Memory) FindRequest(ctx context.Context, id string) (out Request, err error) {
	err = m.read(func(v memView) error { out, err = v.FindRequest(ctx, id); return err })
	return out, err
}

func (m *Memory) ListRequests(ctx context.Context, q RequestQuery) (out []Request, err error) {
	err = m.read(func(v memView) error { out, err = v.ListRequests(ctx, q); return err })
	return out, err
}

func (m *Memory) CountRequests(ctx context.Context, q RequestQuery) (n int, err error) {
	err = m.read(func(v memView) error { n, err = v.CountRequests(ctx, q); return err })
	return n, err
}

func (m *Memory) SetRequestStatus(ctx context.Context, id, status string, processedAt time.Time) (out Request, err error) {
	err = m.write(func(v memView) error { out, err = v.SetRequestStatus(ctx, id, status, processedAt); return err })
	return out, err
}

func (m *Memory) TopRequestedAssets(ctx context.Context, limit int) (out []AssetDemand, err error) {
	err = m.read(func(v memView) error { out, err = v.TopRequestedAssets(ctx, limit); return err })
	return out, err
}

func (m *Memory) RequestTypeStats(ctx context.Context) (out []TypeCount, err error) {
	err = m.read(func(v memView) error { out, err = v.RequestTypeStats(ctx); return err })
	return out, err
}

// memView is the unlocked Store over one memData. Callers hold the lock.
type memView struct{ d *memData }

func (v memView) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, v)
}

func (v memView) Ping(ctx context.Context) error { return ctx.Err() }

func (v memView) CreateUser(_ context.Context, u *User) error {
	if _, taken := v.d.byEmail[u.Email]; taken {
		return errorf(ErrAlreadyExists, "user already exists")
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	v.d.users[u.ID] = *u
	v.d.byEmail[u.Email] = u.ID
	return nil
}

func (v memView) FindUser(_ context.Context, id string) (User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (v memView) FindUserByEmail(_ context.Context, email string) (User, error) {
	id, ok := v.d.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return v.d.users[id], nil
}

func (f UserFilter) matches(u User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.CompanyID != "" && u.CompanyID != f.CompanyID {
		return false
	}
	if f.Unaffiliated && u.CompanyID != "" {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == u.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (v memView) ListUsers(_ context.Context, f UserFilter) ([]User, error) {
	out := make([]User, 0)
	for _, u := range v.d.users {
		if f.matches(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v memView) CountUsers(_ context.Context, f UserFilter) (int, error) {
	n := 0
	for _, u := range v.d.users {
		if f.matches(u) {
			n++
		}
	}
	return n, nil
}

func (v memView) UpdateUser(_ context.Context, id string, upd UserUpdate) (User, error) {
	u, ok := v.d.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.JoinedTeam != nil {
		u.JoinedTeam = *upd.JoinedTeam
	}
	if upd.CompanyID != nil {
		u.CompanyID = *upd.CompanyID
	}
	if upd.CompanyName != nil {
		u.CompanyName = *upd.CompanyName
	}
	if upd.CompanyLogo != nil {
		u.CompanyLogo = *upd.CompanyLogo
	}
	if upd.TeamLimit != nil {
		u.TeamLimit = *upd.TeamLimit
	}
	if upd.Paid != nil {
		u.Paid = *upd.Paid
	}
	v.d.users[id] = u
	return u, nil
}

func (v memView) CreateAsset(_ context.Context, a *Asset) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	v.d.assets[a.ID] = *a
	return nil
}

func (v memView) FindAsset(_ context.Context, id string) (Asset, error) {
	a, ok := v.d.assets[id]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (q AssetQuery) matches(a Asset) bool {
	if q.Search != "" && !containsFold(a.Name, q.Search) {
		return false
	}
	if q.Availability != "" && a.Availability != q.Availability {
		return false
	}
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.Below != nil && a.Quantity >= *q.Below {
		return false
	}
	return true
}

func (v memView) ListAssets(_ context.Context, q AssetQuery) ([]Asset, error) {
	out := make([]Asset, 0)
	for _, a := range v.d.assets {
		if q.matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	switch q.Sort {
	case SortAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	case SortDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity > out[j].Quantity })
	}
	return out, nil
}

func (v memView) UpdateAsset(_ context.Context, id string, upd AssetUpdate) (Asset, error) {
	a, ok := v.d.assets[id]
	if !ok {
		return Asset{}, ErrNotFound
	}
	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.Type != nil {
		a.Type = *upd.Type
	}
	if upd.Quantity != nil {
		a.Quantity = *upd.Quantity
	}
	if upd.AssignedQuantity != nil {
		a.AssignedQuantity = *upd.AssignedQuantity
	}
	if upd.Availability != nil {
		a.Availability = *upd.Availability
	}
	v.d.assets[id] = a
	return a, nil
}

func (v memView) DeleteAsset(_ context.Context, id string) error {
	if _, ok := v.d.assets[id]; !ok {
		return ErrNotFound
	}
	delete(v.d.assets, id)
	return nil
}

func (v memView) AssetTotals(context.Context) (AssetTotals, error) {
	var t AssetTotals
	for _, a := range v.d.assets {
		t.Assets++
		t.Quantity += a.Quantity
	}
	return t, nil
}

func (v memView) CreateRequest(_ context.Context, r *Request) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	v.d.requests[r.ID] = cloneRequest(*r)
	return nil
}

func (v memView) FindRequest(_ context.Context, id string) (Request, error) {
	r, ok := v.d.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return cloneRequest(r), nil
}

func (q RequestQuery) matches(r Request) bool {
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.RequesterEmail != "" && r.RequesterEmail != q.RequesterEmail {
		return false
	}
	if q.Search != "" && !containsFold(r.RequesterName, q.Search) && !containsFold(r.RequesterEmail, q.Search) {
		return false
	}
	return true
}

// newestFirst orders by request time, then by ID for requests stamped in the
// same instant.
func newestFirst(rs []Request) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].RequestedAt.Equal(rs[j].RequestedAt) {
			return rs[i].RequestedAt.After(rs[j].RequestedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}

func (v memView) ListRequests(_ context.Context, q RequestQuery) ([]Request, error) {
	out := make([]Request, 0)
	for _, r := range v.d.requests {
		if q.matches(r) {
			out = append(out, cloneRequest(r))
		}
	}
	newestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (v memView) CountRequests(_ context.Context, q RequestQuery) (int, error) {
	n := 0
	for _, r := range v.d.requests {
		if q.matches(r) {
			n++
		}
	}
	return n, nil
}

func (v memView) SetRequestStatus(_ context.Context, id, status string, processedAt time.Time) (Request, error) {
	r, ok := v.d.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	r.Status = status
	at := processedAt
	r.ProcessedAt = &at
	v.d.requests[id] = r
	return cloneRequest(r), nil
}

func (v memView) TopRequestedAssets(_ context.Context, limit int) ([]AssetDemand, error) {
	all := make([]Request, 0, len(v.d.requests))
	for _, r := range v.d.requests {
		all = append(all, r)
	}
	// oldest first so the first-seen name wins
	newestFirst(all)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}

	index := make(map[string]int)
	var out []AssetDemand
	for _, r := range all {
		if i, ok := index[r.AssetID]; ok {
			out[i].Count++
			continue
		}
		index[r.AssetID] = len(out)
		out = append(out, AssetDemand{AssetID: r.AssetID, AssetName: r.AssetName, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []AssetDemand{}
	}
	return out, nil
}

func (v memView) RequestTypeStats(context.Context) ([]TypeCount, error) {
	counts := make(map[string]int)
	for _, r := range v.d.requests {
		counts[r.AssetType]++
	}
	out := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TypeCount{Type: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}
