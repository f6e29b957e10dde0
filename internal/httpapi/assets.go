package httpapi

import (
	"net/http"

	"assetdesk.org/internal/audit"
	"assetdesk.org/internal/inventory"
)

// Availability and assignedQuantity are accepted for compatibility with
// existing clients and ignored; both are derived server-side.
type createAssetRequest struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Quantity         int    `json:"quantity"`
	AssignedQuantity int    `json:"assignedQuantity"`
	Availability     string `json:"availability"`
}

type updateAssetRequest struct {
	Name         *string `json:"name"`
	Type         *string `json:"type"`
	Quantity     *int    `json:"quantity"`
	Availability *string `json:"availability"`
}

type deleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

func assetQuery(r *http.Request) inventory.AssetQuery {
	q := r.URL.Query()
	return inventory.AssetQuery{
		Search:       q.Get("search"),
		Availability: q.Get("status"),
		Type:         q.Get("type"),
		Sort:         q.Get("sort"),
	}
}

func (a *API) createAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := a.svc.CreateAsset(r.Context(), caller(r), inventory.NewAsset{
		Name:     req.Name,
		Type:     req.Type,
		Quantity: req.Quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "asset.created", map[string]any{
		"asset_id": asset.ID,
		"name":     asset.Name,
		"quantity": asset.Quantity,
	})
	writeJSON(w, http.StatusCreated, asset)
}

func (a *API) searchAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := a.svc.SearchAssets(r.Context(), assetQuery(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assets))
}

func (a *API) employeeAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := a.svc.EmployeeAssets(r.Context(), assetQuery(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assets))
}

func (a *API) limitedStock(w http.ResponseWriter, r *http.Request) {
	assets, err := a.svc.LimitedStock(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assets))
}

func (a *API) getAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	asset, err := a.svc.Asset(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (a *API) updateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	var req updateAssetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := a.svc.UpdateAsset(r.Context(), id, inventory.AssetPatch{
		Name:     req.Name,
		Type:     req.Type,
		Quantity: req.Quantity,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "asset.updated", map[string]any{
		"asset_id":     asset.ID,
		"quantity":     asset.Quantity,
		"availability": asset.Availability,
	})
	writeJSON(w, http.StatusOK, asset)
}

func (a *API) deleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathParam(w, r, "id")
	if !ok {
		return
	}
	if err := a.svc.DeleteAsset(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "asset.deleted", map[string]any{"asset_id": id})
	writeJSON(w, http.StatusOK, deleteResponse{Message: "asset deleted", ID: id})
}
