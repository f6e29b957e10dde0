package inventory

import "time"

// Roles.
const (
	RoleHR       = "hr"
	RoleEmployee = "employee"
)

// Asset availability values. Availability is derived from quantity and never
// taken from callers.
const (
	Available  = "available"
	OutOfStock = "out of stock"
)

// Request statuses. Pending is initial; approved and rejected are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Sort orders for asset search.
const (
	SortNone = ""
	SortAsc  = "asc"
	SortDesc = "dsc"
)

const (
	// LowStockThreshold is the exclusive upper bound for the limited-stock view.
	LowStockThreshold = 10
	// PendingSnapshotSize caps the HR pending-requests dashboard list.
	PendingSnapshotSize = 5
	// TopRequestedSize caps the top requested assets aggregate.
	TopRequestedSize = 4
	// DefaultTeamLimit applies to HR accounts created without a package.
	DefaultTeamLimit = 5
)

// User is a directory entry for an HR manager or an employee.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	JoinedTeam  bool      `json:"joinedTeam"`
	CompanyID   string    `json:"companyId,omitempty"`
	CompanyName string    `json:"companyName,omitempty"`
	CompanyLogo string    `json:"companyLogo,omitempty"`
	TeamLimit   int       `json:"teamLimit"`
	Paid        bool      `json:"paid"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsHR reports whether u manages a company.
func (u User) IsHR() bool { return u.Role == RoleHR }

// Asset is an inventory item with total and assigned quantities.
type Asset struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Quantity         int       `json:"quantity"`
	AssignedQuantity int       `json:"assignedQuantity"`
	Availability     string    `json:"availability"`
	AddedBy          string    `json:"addedBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// AvailabilityFor derives availability from a total quantity.
func AvailabilityFor(quantity int) string {
	if quantity > 0 {
		return Available
	}
	return OutOfStock
}

// Request is an employee's ask to be assigned units of an asset.
type Request struct {
	ID             string     `json:"id"`
	AssetID        string     `json:"assetId"`
	AssetName      string     `json:"assetName"`
	AssetType      string     `json:"assetType"`
	RequesterName  string     `json:"requesterName"`
	RequesterEmail string     `json:"requesterEmail"`
	Note           string     `json:"note,omitempty"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requestedAt"`
	Quantity       *int       `json:"quantity,omitempty"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
}

// Units returns the requested quantity, defaulting to 1.
func (r Request) Units() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

// UserFilter selects users. Zero fields are ignored.
type UserFilter struct {
	Role      string
	CompanyID string
	// Unaffiliated restricts to users without a company.
	Unaffiliated bool
	IDs          []string
}

// UserUpdate carries optional field changes. Nil fields are left untouched.
type UserUpdate struct {
	Name        *string
	JoinedTeam  *bool
	CompanyID   *string
	CompanyName *string
	CompanyLogo *string
	TeamLimit   *int
	Paid        *bool
}

// AssetQuery describes asset search. All filters are optional and ANDed.
type AssetQuery struct {
	Search       string
	Availability string
	Type         string
	Sort         string
	// Below keeps assets whose quantity is strictly less than *Below.
	Below *int
}

// AssetUpdate carries optional field changes. Nil fields are left untouched.
type AssetUpdate struct {
	Name             *string
	Type             *string
	Quantity         *int
	AssignedQuantity *int
	Availability     *string
}

// RequestQuery selects requests; results are always newest first.
type RequestQuery struct {
	Status         string
	RequesterEmail string
	// Search matches requester name or email, case-insensitively.
	Search string
	Limit  int
}

// AssetDemand is one row of the top requested assets aggregate.
type AssetDemand struct {
	AssetID   string `json:"assetId"`
	AssetName string `json:"assetName"`
	Count     int    `json:"count"`
}

// TypeCount is one row of the request type distribution.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// AssetTotals summarizes the catalog.
type AssetTotals struct {
	Assets   int
	Quantity int
}

// Stats is the HR dashboard summary.
type Stats struct {
	TotalAssets     int `json:"totalAssets"`
	TotalQuantity   int `json:"totalQuantity"`
	TotalRequests   int `json:"totalRequests"`
	PendingRequests int `json:"pendingRequests"`
}

// PackageStatus reports team capacity for an HR account.
type PackageStatus struct {
	TeamLimit int  `json:"teamLimit"`
	TeamCount int  `json:"teamCount"`
	Remaining int  `json:"remaining"`
	Paid      bool `json:"paid"`
}

// Approval is the result of a successful approve transition.
type Approval struct {
	Request Request `json:"request"`
	Asset   Asset   `json:"asset"`
}
