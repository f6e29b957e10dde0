package httpapi

import (
	"net/http"

	"assetdesk.org/internal/auth"
	"assetdesk.org/internal/inventory"
)

// gate inspects a request and either returns it, possibly with an enriched
// context, or rejects it.
type gate func(*http.Request) (*http.Request, error)

// chain composes gates left to right. The first rejection stops the chain.
func chain(gates ...gate) gate {
	return func(r *http.Request) (*http.Request, error) {
		for _, g := range gates {
			next, err := g(r)
			if err != nil {
				return nil, err
			}
			r = next
		}
		return r, nil
	}
}

// guard runs g before h and reports rejections through the error mapping.
func (a *API) guard(g gate, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next, err := g(r)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		h(w, next)
	}
}

// authenticated requires a valid bearer token and attaches its claims.
func (a *API) authenticated(r *http.Request) (*http.Request, error) {
	claims, err := a.tokens.Authenticate(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return r.WithContext(auth.ContextWithClaims(r.Context(), claims)), nil
}

// hrOnly requires the authenticated user to hold the hr role. The role is
// read from the store on every call.
func (a *API) hrOnly(r *http.Request) (*http.Request, error) {
	if err := auth.RequireRole(r.Context(), a.svc, inventory.RoleHR); err != nil {
		return nil, err
	}
	return r, nil
}

// caller returns the authenticated email. Handlers behind authenticated
// always have one.
func caller(r *http.Request) string {
	email, _ := auth.EmailFromContext(r.Context())
	return email
}
