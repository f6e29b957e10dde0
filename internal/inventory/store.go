package inventory

import (
	"context"
	"time"
)

// Store describes persistence for users, assets and requests.
//
// Finders return ErrNotFound for missing records. Create methods fill in the
// record ID when empty. Implementations map transient driver failures to
// ErrUnavailable.
type Store interface {
	UserStore
	AssetStore
	RequestStore

	// WithinTx runs fn so that every store call made through tx commits or
	// rolls back together. Single-record finds inside fn lock the record until
	// the transaction ends where the backend supports it.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// UserStore manages directory entries.
type UserStore interface {
	// CreateUser returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	CountUsers(ctx context.Context, f UserFilter) (int, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
}

// AssetStore manages the catalog.
type AssetStore interface {
	CreateAsset(ctx context.Context, a *Asset) error
	FindAsset(ctx context.Context, id string) (Asset, error)
	ListAssets(ctx context.Context, q AssetQuery) ([]Asset, error)
	UpdateAsset(ctx context.Context, id string, upd AssetUpdate) (Asset, error)
	DeleteAsset(ctx context.Context, id string) error
	AssetTotals(ctx context.Context) (AssetTotals, error)
}

// RequestStore manages asset requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r *Request) error
	FindRequest(ctx context.Context, id string) (Request, error)
	ListRequests(ctx context.Context, q RequestQuery) ([]Request, error)
	CountRequests(ctx context.Context, q RequestQuery) (int, error)
	// SetRequestStatus stamps status and processedAt on one request.
	SetRequestStatus(ctx context.Context, id, status string, processedAt time.Time) (Request, error)
	TopRequestedAssets(ctx context.Context, limit int) ([]AssetDemand, error)
	RequestTypeStats(ctx context.Context) ([]TypeCount, error)
}
