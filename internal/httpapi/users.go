package httpapi

import (
	"net/http"

	"assetdesk.org/internal/audit"
	"assetdesk.org/internal/inventory"
)

type createUserRequest struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	CompanyName string `json:"companyName"`
	CompanyLogo string `json:"companyLogo"`
	TeamLimit   int    `json:"teamLimit"`
}

type createUserResponse struct {
	Message string         `json:"message"`
	Created bool           `json:"created"`
	User    inventory.User `json:"user"`
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

type addEmployeesRequest struct {
	EmployeeIDs []string `json:"employeeIds"`
}

type upgradePackageRequest struct {
	TeamLimit int `json:"teamLimit"`
}

type teamChangeResponse struct {
	Message   string           `json:"message"`
	Employees []inventory.User `json:"employees"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, created, err := a.svc.CreateUser(r.Context(), inventory.NewUser{
		Email:       req.Email,
		Name:        req.Name,
		Role:        req.Role,
		CompanyName: req.CompanyName,
		CompanyLogo: req.CompanyLogo,
		TeamLimit:   req.TeamLimit,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, createUserResponse{Message: "user already exists", User: u})
		return
	}
	_ = audit.LogEvent(r.Context(), "user.created", map[string]any{
		"user_id": u.ID,
		"email":   u.Email,
		"role":    u.Role,
	})
	writeJSON(w, http.StatusCreated, createUserResponse{Message: "user created", Created: true, User: u})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.Users(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (a *API) userByEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := pathParam(w, r, "email")
	if !ok {
		return
	}
	u, err := a.svc.UserByEmail(r.Context(), email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	u, err := a.svc.UserByEmail(r.Context(), caller(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.svc.UpdateProfile(r.Context(), caller(r), req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.profile_updated", map[string]any{"user_id": u.ID})
	writeJSON(w, http.StatusOK, u)
}

// ---- team ----

func (a *API) team(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.Team(r.Context(), caller(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (a *API) freeEmployees(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.FreeEmployees(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(users))
}

func (a *API) packageStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.PackageStatus(r.Context(), caller(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) addEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	u, err := a.svc.AddEmployee(r.Context(), caller(r), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.employee_added", map[string]any{
		"employee_id": u.ID,
		"company_id":  u.CompanyID,
	})
	writeJSON(w, http.StatusOK, teamChangeResponse{Message: "employee added", Employees: []inventory.User{u}})
}

func (a *API) addSelectedEmployees(w http.ResponseWriter, r *http.Request) {
	var req addEmployeesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	users, err := a.svc.AddEmployees(r.Context(), caller(r), req.EmployeeIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	added := make([]string, 0, len(users))
	for _, u := range users {
		added = append(added, u.ID)
	}
	_ = audit.LogEvent(r.Context(), "team.employees_added", map[string]any{"employee_ids": added})
	writeJSON(w, http.StatusOK, teamChangeResponse{Message: "employees added", Employees: nonNil(users)})
}

func (a *API) removeEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	u, err := a.svc.RemoveEmployee(r.Context(), caller(r), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.employee_removed", map[string]any{"employee_id": u.ID})
	writeJSON(w, http.StatusOK, teamChangeResponse{Message: "employee removed", Employees: []inventory.User{u}})
}

func (a *API) upgradePackage(w http.ResponseWriter, r *http.Request) {
	var req upgradePackageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.svc.UpgradePackage(r.Context(), caller(r), req.TeamLimit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "team.package_upgraded", map[string]any{"team_limit": u.TeamLimit})
	writeJSON(w, http.StatusOK, u)
}

// nonNil keeps empty lists encoded as [] instead of null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
