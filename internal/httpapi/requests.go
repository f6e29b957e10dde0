package httpapi

import (
	"errors"
	"net/http"

	"assetdesk.org/internal/audit"
	"assetdesk.org/internal/inventory"
	"assetdesk.org/internal/obs"
)

// RequesterEmail and Status are server-assigned; the fields are accepted and
// ignored.
type createRequestRequest struct {
	AssetID        string `json:"assetId"`
	AssetName      string `json:"assetName"`
	AssetType      string `json:"assetType"`
	RequesterName  string `json:"requesterName"`
	RequesterEmail string `json:"requesterEmail"`
	Note           string `json:"note"`
	Status         string `json:"status"`
	Quantity       *int   `json:"quantity"`
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.CreateRequest(r.Context(), caller(r), inventory.NewRequest{
		AssetID:       req.AssetID,
		AssetName:     req.AssetName,
		AssetType:     req.AssetType,
		RequesterName: req.RequesterName,
		Note:          req.Note,
		Quantity:      req.Quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	obs.RequestCreated()
	_ = audit.LogEvent(r.Context(), "request.created", map[string]any{
		"request_id": created.ID,
		"asset_id":   created.AssetID,
		"quantity":   created.Units(),
	})
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) myPendingRequests(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.MyPendingRequests(r.Context(), caller(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) pendingRequests(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.PendingRequests(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) allRequests(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.SearchRequests(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) topRequestedAssets(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.TopRequestedAssets(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) requestTypeStats(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.RequestTypeStats(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	res, err := a.svc.Approve(r.Context(), id)
	obs.RequestDecision("approve", decisionOutcome(err))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.approved", map[string]any{
		"request_id":        id,
		"asset_id":          res.Asset.ID,
		"assigned_quantity": res.Asset.AssignedQuantity,
	})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	out, err := a.svc.Reject(r.Context(), id)
	obs.RequestDecision("reject", decisionOutcome(err))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.rejected", map[string]any{"request_id": id})
	writeJSON(w, http.StatusOK, out)
}

func decisionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrNotFound):
		return "not_found"
	case errors.Is(err, inventory.ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
