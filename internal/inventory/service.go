package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assetdesk.org/internal/auth"
	"assetdesk.org/internal/events"
	"assetdesk.org/internal/ids"
)

// Publisher receives request lifecycle events.
type Publisher interface {
	Publish(evt events.Event)
}

// Service implements the user directory, asset catalog and request workflow
// on top of a Store.
type Service struct {
	store  Store
	now    func() time.Time
	events Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher sends request lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService wires a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) publish(evt events.Event) {
	if s.events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now()
	}
	s.events.Publish(evt)
}

// ---- users ----

// NewUser is the signup payload.
type NewUser struct {
	Email       string
	Name        string
	Role        string
	CompanyName string
	CompanyLogo string
	TeamLimit   int
}

// CreateUser registers a user. When the normalized email is already taken the
// existing record is returned with created=false and nothing is written.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, bool, error) {
	email := auth.NormalizeEmail(in.Email)
	if email == "" {
		return User{}, false, errorf(ErrInvalidInput, "email is required")
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = RoleEmployee
	}
	if role != RoleHR && role != RoleEmployee {
		return User{}, false, errorf(ErrInvalidInput, "unknown role %q", in.Role)
	}

	existing, err := s.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, false, err
	}

	u := User{
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Role:      role,
		CreatedAt: s.now(),
	}
	if role == RoleHR {
		if in.TeamLimit < 0 {
			return User{}, false, errorf(ErrInvalidInput, "teamLimit must not be negative")
		}
		u.CompanyID = ids.New()
		u.CompanyName = strings.TrimSpace(in.CompanyName)
		u.CompanyLogo = strings.TrimSpace(in.CompanyLogo)
		u.JoinedTeam = true
		u.TeamLimit = in.TeamLimit
		if u.TeamLimit == 0 {
			u.TeamLimit = DefaultTeamLimit
		}
	}

	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a signup race; report the winner.
			existing, ferr := s.store.FindUserByEmail(ctx, email)
			if ferr != nil {
				return User{}, false, ferr
			}
			return existing, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

// UserByEmail looks a user up by email after normalization.
func (s *Service) UserByEmail(ctx context.Context, email string) (User, error) {
	u, err := s.store.FindUserByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, errorf(ErrNotFound, "User not found")
	}
	return u, err
}

// Users lists every user.
func (s *Service) Users(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx, UserFilter{})
}

// RoleOf implements auth.RoleLookup.
func (s *Service) RoleOf(ctx context.Context, email string) (string, error) {
	u, err := s.store.FindUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %s", auth.ErrLookupMiss, email)
		}
		return "", err
	}
	return u.Role, nil
}

// UpdateProfile changes the display name of the user owning email. Nothing
// else on the profile is caller-editable.
func (s *Service) UpdateProfile(ctx context.Context, email, name string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, errorf(ErrInvalidInput, "name is required")
	}
	u, err := s.UserByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	return s.store.UpdateUser(ctx, u.ID, UserUpdate{Name: &name})
}

// ---- team ----

func hrAccount(ctx context.Context, st Store, email string) (User, error) {
	u, err := st.FindUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, errorf(ErrNotFound, "User not found")
		}
		return User{}, err
	}
	if !u.IsHR() || u.CompanyID == "" {
		return User{}, errorf(ErrInvalidInput, "account does not manage a company")
	}
	return u, nil
}

func teamFilter(hr User) UserFilter {
	return UserFilter{Role: RoleEmployee, CompanyID: hr.CompanyID}
}

// Team lists the employees of the HR's company.
func (s *Service) Team(ctx context.Context, hrEmail string) ([]User, error) {
	hr, err := hrAccount(ctx, s.store, hrEmail)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, teamFilter(hr))
}

// FreeEmployees lists employees without a company.
func (s *Service) FreeEmployees(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx, UserFilter{Role: RoleEmployee, Unaffiliated: true})
}

// PackageStatus reports the HR's team capacity.
func (s *Service) PackageStatus(ctx context.Context, hrEmail string) (PackageStatus, error) {
	hr, err := hrAccount(ctx, s.store, hrEmail)
	if err != nil {
		return PackageStatus{}, err
	}
	count, err := s.store.CountUsers(ctx, teamFilter(hr))
	if err != nil {
		return PackageStatus{}, err
	}
	remaining := hr.TeamLimit - count
	if remaining < 0 {
		remaining = 0
	}
	return PackageStatus{TeamLimit: hr.TeamLimit, TeamCount: count, Remaining: remaining, Paid: hr.Paid}, nil
}

func joinUpdate(hr User) UserUpdate {
	joined := true
	return UserUpdate{
		JoinedTeam:  &joined,
		CompanyID:   &hr.CompanyID,
		CompanyName: &hr.CompanyName,
		CompanyLogo: &hr.CompanyLogo,
	}
}

// AddEmployee moves a free employee into the HR's team. It fails with
// ErrTeamLimit when the team is already full.
func (s *Service) AddEmployee(ctx context.Context, hrEmail, employeeID string) (User, error) {
	var out User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		hr, err := hrAccount(ctx, tx, hrEmail)
		if err != nil {
			return err
		}
		emp, err := tx.FindUser(ctx, employeeID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrNotFound, "employee not found")
			}
			return err
		}
		if emp.Role != RoleEmployee {
			return errorf(ErrInvalidInput, "user is not an employee")
		}
		if emp.CompanyID == hr.CompanyID {
			return errorf(ErrAlreadyExists, "employee already in team")
		}
		if emp.CompanyID != "" {
			return errorf(ErrAlreadyExists, "employee belongs to another company")
		}
		count, err := tx.CountUsers(ctx, teamFilter(hr))
		if err != nil {
			return err
		}
		if count >= hr.TeamLimit {
			return errorf(ErrTeamLimit, "team limit reached")
		}
		out, err = tx.UpdateUser(ctx, emp.ID, joinUpdate(hr))
		return err
	})
	return out, err
}

// AddEmployees moves the selected free employees into the HR's team. Either
// all of them join or, when the team would overflow, none do. IDs of users
// that are not free employees are ignored.
func (s *Service) AddEmployees(ctx context.Context, hrEmail string, employeeIDs []string) ([]User, error) {
	seen := make(map[string]struct{}, len(employeeIDs))
	unique := make([]string, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, errorf(ErrInvalidInput, "no employees selected")
	}

	var added []User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		hr, err := hrAccount(ctx, tx, hrEmail)
		if err != nil {
			return err
		}
		free, err := tx.ListUsers(ctx, UserFilter{Role: RoleEmployee, Unaffiliated: true, IDs: unique})
		if err != nil {
			return err
		}
		if len(free) == 0 {
			return errorf(ErrNotFound, "no free employees among selection")
		}
		count, err := tx.CountUsers(ctx, teamFilter(hr))
		if err != nil {
			return err
		}
		if count+len(free) > hr.TeamLimit {
			return errorf(ErrTeamLimit, "team limit exceeded")
		}
		added = make([]User, 0, len(free))
		for _, emp := range free {
			u, err := tx.UpdateUser(ctx, emp.ID, joinUpdate(hr))
			if err != nil {
				return err
			}
			added = append(added, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveEmployee clears company membership of an employee in the HR's team.
func (s *Service) RemoveEmployee(ctx context.Context, hrEmail, employeeID string) (User, error) {
	var out User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		hr, err := hrAccount(ctx, tx, hrEmail)
		if err != nil {
			return err
		}
		emp, err := tx.FindUser(ctx, employeeID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err != nil || emp.Role != RoleEmployee || emp.CompanyID != hr.CompanyID {
			return errorf(ErrNotFound, "employee not found in team")
		}
		joined := false
		empty := ""
		out, err = tx.UpdateUser(ctx, emp.ID, UserUpdate{
			JoinedTeam:  &joined,
			CompanyID:   &empty,
			CompanyName: &empty,
			CompanyLogo: &empty,
		})
		return err
	})
	return out, err
}

// UpgradePackage raises the HR's team limit and marks the account as paid.
func (s *Service) UpgradePackage(ctx context.Context, hrEmail string, limit int) (User, error) {
	var out User
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		hr, err := hrAccount(ctx, tx, hrEmail)
		if err != nil {
			return err
		}
		if limit <= hr.TeamLimit {
			return errorf(ErrInvalidInput, "new limit must exceed current limit %d", hr.TeamLimit)
		}
		paid := true
		out, err = tx.UpdateUser(ctx, hr.ID, UserUpdate{TeamLimit: &limit, Paid: &paid})
		return err
	})
	return out, err
}

// ---- assets ----

// NewAsset is the asset creation payload.
type NewAsset struct {
	Name     string
	Type     string
	Quantity int
}

// AssetPatch carries caller-editable asset fields. Availability and the
// assigned counter are never taken from callers.
type AssetPatch struct {
	Name     *string
	Type     *string
	Quantity *int
}

// CreateAsset adds an asset to the catalog on behalf of addedBy.
func (s *Service) CreateAsset(ctx context.Context, addedBy string, in NewAsset) (Asset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Asset{}, errorf(ErrInvalidInput, "name is required")
	}
	if in.Quantity < 0 {
		return Asset{}, errorf(ErrInvalidInput, "quantity must not be negative")
	}
	a := Asset{
		Name:         name,
		Type:         strings.TrimSpace(in.Type),
		Quantity:     in.Quantity,
		Availability: AvailabilityFor(in.Quantity),
		AddedBy:      auth.NormalizeEmail(addedBy),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateAsset(ctx, &a); err != nil {
		return Asset{}, err
	}
	return a, nil
}

// NormalizeSort maps caller sort values onto SortAsc, SortDesc or SortNone.
func NormalizeSort(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case SortAsc:
		return SortAsc
	case SortDesc, "desc":
		return SortDesc
	default:
		return SortNone
	}
}

func cleanAssetQuery(q AssetQuery) AssetQuery {
	q.Search = strings.TrimSpace(q.Search)
	q.Availability = strings.TrimSpace(q.Availability)
	q.Type = strings.TrimSpace(q.Type)
	q.Sort = NormalizeSort(q.Sort)
	return q
}

// SearchAssets is the HR catalog search.
func (s *Service) SearchAssets(ctx context.Context, q AssetQuery) ([]Asset, error) {
	q = cleanAssetQuery(q)
	q.Below = nil
	return s.store.ListAssets(ctx, q)
}

// EmployeeAssets applies the catalog filters without sorting.
func (s *Service) EmployeeAssets(ctx context.Context, q AssetQuery) ([]Asset, error) {
	q = cleanAssetQuery(q)
	q.Sort = SortNone
	q.Below = nil
	return s.store.ListAssets(ctx, q)
}

// LimitedStock lists assets below LowStockThreshold, smallest quantity first.
func (s *Service) LimitedStock(ctx context.Context) ([]Asset, error) {
	below := LowStockThreshold
	return s.store.ListAssets(ctx, AssetQuery{Below: &below, Sort: SortAsc})
}

// Asset returns one asset.
func (s *Service) Asset(ctx context.Context, id string) (Asset, error) {
	a, err := s.store.FindAsset(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Asset{}, errorf(ErrNotFound, "asset not found")
	}
	return a, err
}

// UpdateAsset applies p and recomputes availability from the resulting
// quantity. Quantity may not drop below the units already assigned.
func (s *Service) UpdateAsset(ctx context.Context, id string, p AssetPatch) (Asset, error) {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return Asset{}, errorf(ErrInvalidInput, "name must not be empty")
		}
		p.Name = &name
	}
	if p.Quantity != nil && *p.Quantity < 0 {
		return Asset{}, errorf(ErrInvalidInput, "quantity must not be negative")
	}
	var out Asset
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		cur, err := tx.FindAsset(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrNotFound, "asset not found")
			}
			return err
		}
		quantity := cur.Quantity
		if p.Quantity != nil {
			quantity = *p.Quantity
		}
		if quantity < cur.AssignedQuantity {
			return errorf(ErrInvalidInput, "quantity %d is below assigned quantity %d", quantity, cur.AssignedQuantity)
		}
		availability := AvailabilityFor(quantity)
		out, err = tx.UpdateAsset(ctx, id, AssetUpdate{
			Name:         p.Name,
			Type:         p.Type,
			Quantity:     &quantity,
			Availability: &availability,
		})
		return err
	})
	return out, err
}

// DeleteAsset removes an asset.
func (s *Service) DeleteAsset(ctx context.Context, id string) error {
	err := s.store.DeleteAsset(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return errorf(ErrNotFound, "asset not found")
	}
	return err
}

// ---- requests ----

// NewRequest is the employee request payload.
type NewRequest struct {
	AssetID       string
	AssetName     string
	AssetType     string
	RequesterName string
	Note          string
	Quantity      *int
}

// CreateRequest files a pending request for the employee owning email. The
// asset name and type are copied from the payload as given.
func (s *Service) CreateRequest(ctx context.Context, email string, in NewRequest) (Request, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return Request{}, errorf(ErrInvalidInput, "requester email is required")
	}
	assetID := strings.TrimSpace(in.AssetID)
	if assetID == "" {
		return Request{}, errorf(ErrInvalidInput, "assetId is required")
	}
	if in.Quantity != nil && *in.Quantity < 1 {
		return Request{}, errorf(ErrInvalidInput, "quantity must be at least 1")
	}

	name := strings.TrimSpace(in.RequesterName)
	if u, err := s.store.FindUserByEmail(ctx, email); err == nil {
		if u.Name != "" {
			name = u.Name
		}
	} else if !errors.Is(err, ErrNotFound) {
		return Request{}, err
	}

	r := Request{
		AssetID:        assetID,
		AssetName:      strings.TrimSpace(in.AssetName),
		AssetType:      strings.TrimSpace(in.AssetType),
		RequesterName:  name,
		RequesterEmail: email,
		Note:           strings.TrimSpace(in.Note),
		Status:         StatusPending,
		RequestedAt:    s.now(),
		Quantity:       in.Quantity,
	}
	if err := s.store.CreateRequest(ctx, &r); err != nil {
		return Request{}, err
	}
	s.publish(events.Event{
		Type:      events.RequestCreated,
		RequestID: r.ID,
		AssetID:   r.AssetID,
		AssetName: r.AssetName,
		Requester: r.RequesterEmail,
		Status:    r.Status,
		Timestamp: r.RequestedAt,
	})
	return r, nil
}

// PendingRequests is the HR dashboard snapshot of the newest pending requests.
func (s *Service) PendingRequests(ctx context.Context) ([]Request, error) {
	return s.store.ListRequests(ctx, RequestQuery{Status: StatusPending, Limit: PendingSnapshotSize})
}

// MyPendingRequests lists the caller's own pending requests, newest first.
func (s *Service) MyPendingRequests(ctx context.Context, email string) ([]Request, error) {
	return s.store.ListRequests(ctx, RequestQuery{
		Status:         StatusPending,
		RequesterEmail: auth.NormalizeEmail(email),
	})
}

// SearchRequests matches requester name or email, newest first.
func (s *Service) SearchRequests(ctx context.Context, search string) ([]Request, error) {
	return s.store.ListRequests(ctx, RequestQuery{Search: strings.TrimSpace(search)})
}

// TopRequestedAssets returns the most requested assets.
func (s *Service) TopRequestedAssets(ctx context.Context) ([]AssetDemand, error) {
	return s.store.TopRequestedAssets(ctx, TopRequestedSize)
}

// RequestTypeStats returns the request count per asset type.
func (s *Service) RequestTypeStats(ctx context.Context) ([]TypeCount, error) {
	return s.store.RequestTypeStats(ctx)
}

// Approve moves a pending request to approved and assigns the requested units
// of its asset. The status change and the assignment commit together; on any
// failure neither is applied.
func (s *Service) Approve(ctx context.Context, requestID string) (Approval, error) {
	var out Approval
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		req, err := tx.FindRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrNotFound, "request not found")
			}
			return err
		}
		if req.Status != StatusPending {
			return errorf(ErrAlreadyProcessed, "request already processed")
		}
		asset, err := tx.FindAsset(ctx, req.AssetID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrNotFound, "asset not found")
			}
			return err
		}
		assigned := asset.AssignedQuantity + req.Units()
		if assigned > asset.Quantity {
			return errorf(ErrInsufficientStock, "not enough available assets")
		}
		if out.Request, err = tx.SetRequestStatus(ctx, req.ID, StatusApproved, s.now()); err != nil {
			return err
		}
		out.Asset, err = tx.UpdateAsset(ctx, asset.ID, AssetUpdate{AssignedQuantity: &assigned})
		return err
	})
	if err != nil {
		return Approval{}, err
	}
	s.publish(events.Event{
		Type:      events.RequestApproved,
		RequestID: out.Request.ID,
		AssetID:   out.Asset.ID,
		AssetName: out.Request.AssetName,
		Requester: out.Request.RequesterEmail,
		Status:    out.Request.Status,
	})
	return out, nil
}

// Reject marks a request rejected. Rejecting twice overwrites the decision
// time; an approved request cannot be rejected because its units are already
// assigned.
func (s *Service) Reject(ctx context.Context, requestID string) (Request, error) {
	var out Request
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		req, err := tx.FindRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errorf(ErrNotFound, "request not found")
			}
			return err
		}
		if req.Status == StatusApproved {
			return errorf(ErrAlreadyProcessed, "request already processed")
		}
		out, err = tx.SetRequestStatus(ctx, req.ID, StatusRejected, s.now())
		return err
	})
	if err != nil {
		return Request{}, err
	}
	s.publish(events.Event{
		Type:      events.RequestRejected,
		RequestID: out.ID,
		AssetID:   out.AssetID,
		AssetName: out.AssetName,
		Requester: out.RequesterEmail,
		Status:    out.Status,
	})
	return out, nil
}

// Stats computes the HR dashboard totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	totals, err := s.store.AssetTotals(ctx)
	if err != nil {
		return Stats{}, err
	}
	all, err := s.store.CountRequests(ctx, RequestQuery{})
	if err != nil {
		return Stats{}, err
	}
	pending, err := s.store.CountRequests(ctx, RequestQuery{Status: StatusPending})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalAssets:     totals.Assets,
		TotalQuantity:   totals.Quantity,
		TotalRequests:   all,
		PendingRequests: pending,
	}, nil
}
