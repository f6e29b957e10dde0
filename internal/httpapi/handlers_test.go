package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"assetdesk.org/internal/auth"
	"assetdesk.org/internal/events"
	"assetdesk.org/internal/inventory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	server  *httptest.Server
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	broker := events.NewBroker(16)
	svc := inventory.NewService(inventory.NewMemory(), inventory.WithPublisher(broker))

	api := New(svc, tokens,
		WithVersion("test"),
		WithBroker(broker),
		WithRateLimit(1000, 1000),
	)

	srv := httptest.NewUnstartedServer(nil)
	srv.Config = api.Server("")
	srv.Start()
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		server:  srv,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) patch(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPatch, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(email string) string {
	c.t.Helper()
	resp := c.post("/jwt", map[string]any{"email": email}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

// signup creates a user and returns it with bearer headers for its email.
func (c *apiClient) signup(body map[string]any) (inventory.User, map[string]string) {
	c.t.Helper()
	resp := c.post("/users", body, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("signup %v: status %d", body["email"], resp.StatusCode)
	}
	created := decode[createUserResponse](c.t, resp)
	token := c.obtainToken(created.User.Email)
	return created.User, bearer(token)
}

func (c *apiClient) createAsset(headers map[string]string, name, typ string, quantity int) inventory.Asset {
	c.t.Helper()
	resp := c.post("/assets", map[string]any{
		"name":             name,
		"type":             typ,
		"quantity":         quantity,
		"assignedQuantity": 0,
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create asset %s: status %d", name, resp.StatusCode)
	}
	return decode[inventory.Asset](c.t, resp)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, r *http.Response, status int, msg string) {
	t.Helper()
	if r.StatusCode != status {
		r.Body.Close()
		t.Fatalf("expected status %d, got %d", status, r.StatusCode)
	}
	body := decode[map[string]any](t, r)
	if msg != "" && body["error"] != msg {
		t.Fatalf("expected error %q, got %v", msg, body["error"])
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("expected request_id in error body")
	}
}

func TestAPIApproveFlow(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "name": "Hana", "role": "hr", "companyName": "Acme"})
	_, emp := c.signup(map[string]any{"email": "emp@acme.io", "name": "Emil"})

	laptop := c.createAsset(hr, "Laptop", "returnable", 10)
	if laptop.Availability != inventory.Available || laptop.AssignedQuantity != 0 {
		t.Fatalf("unexpected asset: %+v", laptop)
	}

	resp := c.post("/requests", map[string]any{
		"assetId":   laptop.ID,
		"assetName": laptop.Name,
		"assetType": laptop.Type,
		"quantity":  3,
	}, emp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request status: %d", resp.StatusCode)
	}
	req := decode[inventory.Request](t, resp)
	if req.Status != inventory.StatusPending || req.RequesterEmail != "emp@acme.io" || req.RequesterName != "Emil" {
		t.Fatalf("unexpected request: %+v", req)
	}

	mine := decode[[]inventory.Request](t, c.get("/employee/my-pending-requests", nil, emp))
	if len(mine) != 1 || mine[0].ID != req.ID {
		t.Fatalf("unexpected pending list: %+v", mine)
	}

	resp = c.patch("/hr/approve-request/"+req.ID, nil, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status: %d", resp.StatusCode)
	}
	approval := decode[inventory.Approval](t, resp)
	if approval.Request.Status != inventory.StatusApproved || approval.Request.ProcessedAt == nil {
		t.Fatalf("unexpected approved request: %+v", approval.Request)
	}
	if approval.Asset.AssignedQuantity != 3 {
		t.Fatalf("expected assigned 3, got %d", approval.Asset.AssignedQuantity)
	}

	expectError(t, c.patch("/hr/approve-request/"+req.ID, nil, hr), http.StatusConflict, "request already processed")

	after := decode[inventory.Asset](t, c.get("/assets/"+laptop.ID, nil, nil))
	if after.AssignedQuantity != 3 {
		t.Fatalf("second approve mutated asset: %+v", after)
	}

	stats := decode[inventory.Stats](t, c.get("/hr/stats", nil, hr))
	if stats.TotalAssets != 1 || stats.TotalQuantity != 10 || stats.TotalRequests != 1 || stats.PendingRequests != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIApproveInsufficientStock(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	_, emp := c.signup(map[string]any{"email": "emp@acme.io"})

	mouse := c.createAsset(hr, "Mouse", "returnable", 2)
	req := decode[inventory.Request](t, c.post("/requests", map[string]any{
		"assetId":  mouse.ID,
		"quantity": 5,
	}, emp))

	expectError(t, c.patch("/hr/approve-request/"+req.ID, nil, hr), http.StatusConflict, "not enough available assets")

	after := decode[inventory.Asset](t, c.get("/assets/"+mouse.ID, nil, nil))
	if after.AssignedQuantity != 0 {
		t.Fatalf("assigned changed: %d", after.AssignedQuantity)
	}
	pending := decode[[]inventory.Request](t, c.get("/hr/pending-requests", nil, hr))
	if len(pending) != 1 || pending[0].Status != inventory.StatusPending {
		t.Fatalf("request left pending expected, got %+v", pending)
	}

	expectError(t, c.patch("/hr/approve-request/missing", nil, hr), http.StatusNotFound, "request not found")
}

func TestAPIRejectRequest(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	_, emp := c.signup(map[string]any{"email": "emp@acme.io"})
	chair := c.createAsset(hr, "Chair", "non-returnable", 4)
	req := decode[inventory.Request](t, c.post("/requests", map[string]any{"assetId": chair.ID}, emp))

	resp := c.patch("/hr/reject-request/"+req.ID, nil, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status: %d", resp.StatusCode)
	}
	rejected := decode[inventory.Request](t, resp)
	if rejected.Status != inventory.StatusRejected {
		t.Fatalf("unexpected status %q", rejected.Status)
	}

	mine := decode[[]inventory.Request](t, c.get("/employee/my-pending-requests", nil, emp))
	if len(mine) != 0 {
		t.Fatalf("expected no pending requests, got %d", len(mine))
	}
}

func TestAPIAuthorizationGates(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	_, emp := c.signup(map[string]any{"email": "emp@acme.io"})

	expectError(t, c.get("/users", nil, nil), http.StatusUnauthorized, "forbidden access")
	expectError(t, c.get("/users", nil, bearer("garbage")), http.StatusUnauthorized, "forbidden access")
	expectError(t, c.get("/users", nil, map[string]string{"Authorization": "Basic abc"}), http.StatusUnauthorized, "forbidden access")
	expectError(t, c.get("/users", nil, emp), http.StatusForbidden, "forbidden access")

	ghost := bearer(c.obtainToken("ghost@acme.io"))
	expectError(t, c.get("/hr/stats", nil, ghost), http.StatusForbidden, "forbidden access")
	expectError(t, c.get("/users/profile", nil, ghost), http.StatusNotFound, "User not found")

	users := decode[[]inventory.User](t, c.get("/users", nil, hr))
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	// Employee-facing routes need a token but no role.
	resp := c.get("/employee/assets", nil, emp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("employee assets status: %d", resp.StatusCode)
	}
	resp.Body.Close()
	expectError(t, c.get("/employee/assets", nil, nil), http.StatusUnauthorized, "forbidden access")
}

func TestAPICreateUserDedup(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/users", map[string]any{"email": "A@B.com", "name": "First"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create status: %d", resp.StatusCode)
	}
	first := decode[createUserResponse](t, resp)
	if !first.Created || first.User.Email != "a@b.com" || first.User.Role != inventory.RoleEmployee {
		t.Fatalf("unexpected first user: %+v", first)
	}

	resp = c.post("/users", map[string]any{"email": " a@b.com ", "name": "Second"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate create status: %d", resp.StatusCode)
	}
	dup := decode[createUserResponse](t, resp)
	if dup.Created || dup.Message != "user already exists" || dup.User.ID != first.User.ID {
		t.Fatalf("unexpected duplicate response: %+v", dup)
	}

	found := decode[inventory.User](t, c.get("/users/A@B.COM", nil, nil))
	if found.ID != first.User.ID || found.Name != "First" {
		t.Fatalf("lookup mismatch: %+v", found)
	}

	for _, path := range []string{"/users/a%40b.com", "/users/%20A%40B.com%20"} {
		found := decode[inventory.User](t, c.get(path, nil, nil))
		if found.ID != first.User.ID {
			t.Fatalf("escaped lookup %s mismatch: %+v", path, found)
		}
	}

	expectError(t, c.get("/users/nobody@b.com", nil, nil), http.StatusNotFound, "User not found")
	expectError(t, c.post("/users", map[string]any{"email": "x@y.z", "bogus": true}, nil), http.StatusBadRequest, "")
	expectError(t, c.post("/users", map[string]any{"email": "x@y.z", "role": "admin"}, nil), http.StatusBadRequest, "")
}

func TestAPIProfileUpdate(t *testing.T) {
	c := newTestAPI(t)
	_, emp := c.signup(map[string]any{"email": "emp@acme.io", "name": "Old"})

	resp := c.patch("/users/profile", map[string]any{"name": "New"}, emp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update profile status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	me := decode[inventory.User](t, c.get("/users/profile", nil, emp))
	if me.Name != "New" {
		t.Fatalf("expected updated name, got %q", me.Name)
	}

	expectError(t, c.patch("/users/profile", map[string]any{"role": "hr"}, emp), http.StatusBadRequest, "")
}

func TestAPIAssetSearch(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})

	c.createAsset(hr, "Laptop", "returnable", 10)
	c.createAsset(hr, "laptop stand", "returnable", 3)
	c.createAsset(hr, "Lap desk", "non-returnable", 0)
	c.createAsset(hr, "Mouse", "returnable", 20)

	got := decode[[]inventory.Asset](t, c.get("/assets", url.Values{
		"search": {"lap"},
		"status": {"available"},
		"sort":   {"dsc"},
	}, hr))
	if len(got) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(got))
	}
	if got[0].Name != "Laptop" || got[1].Name != "laptop stand" {
		t.Fatalf("unexpected order: %s, %s", got[0].Name, got[1].Name)
	}

	low := decode[[]inventory.Asset](t, c.get("/assets/limited-stock", nil, hr))
	if len(low) != 2 || low[0].Quantity != 0 || low[1].Quantity != 3 {
		t.Fatalf("unexpected limited stock: %+v", low)
	}

	nonReturnable := decode[[]inventory.Asset](t, c.get("/assets", url.Values{"type": {"non-returnable"}}, hr))
	if len(nonReturnable) != 1 || nonReturnable[0].Availability != inventory.OutOfStock {
		t.Fatalf("unexpected type filter result: %+v", nonReturnable)
	}
}

func TestAPIUpdateAndDeleteAsset(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	pen := c.createAsset(hr, "Pen", "non-returnable", 5)

	resp := c.patch("/assets/"+pen.ID, map[string]any{"quantity": 0, "availability": "available"}, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status: %d", resp.StatusCode)
	}
	updated := decode[inventory.Asset](t, resp)
	if updated.Quantity != 0 || updated.Availability != inventory.OutOfStock {
		t.Fatalf("availability not derived: %+v", updated)
	}

	resp = c.do(http.MethodDelete, "/assets/"+pen.ID, nil, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	expectError(t, c.get("/assets/"+pen.ID, nil, nil), http.StatusNotFound, "asset not found")
	expectError(t, c.do(http.MethodDelete, "/assets/"+pen.ID, nil, hr), http.StatusNotFound, "asset not found")
}

func TestAPITeamLimit(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr", "teamLimit": 2})
	e1, _ := c.signup(map[string]any{"email": "e1@acme.io"})
	e2, _ := c.signup(map[string]any{"email": "e2@acme.io"})
	e3, _ := c.signup(map[string]any{"email": "e3@acme.io"})

	free := decode[[]inventory.User](t, c.get("/hr/free-employees", nil, hr))
	if len(free) != 3 {
		t.Fatalf("expected 3 free employees, got %d", len(free))
	}

	resp := c.patch("/hr/add-selected-employees", map[string]any{"employeeIds": []string{e1.ID, e2.ID, e3.ID}}, hr)
	expectError(t, resp, http.StatusForbidden, "team limit exceeded")

	for _, id := range []string{e1.ID, e2.ID} {
		resp := c.patch("/hr/add-employee/"+id, nil, hr)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("add %s status: %d", id, resp.StatusCode)
		}
		resp.Body.Close()
	}

	expectError(t, c.patch("/hr/add-employee/"+e3.ID, nil, hr), http.StatusForbidden, "team limit reached")

	team := decode[[]inventory.User](t, c.get("/hr/employees", nil, hr))
	if len(team) != 2 {
		t.Fatalf("expected team of 2, got %d", len(team))
	}
	status := decode[inventory.PackageStatus](t, c.get("/hr/package-status", nil, hr))
	if status.TeamLimit != 2 || status.TeamCount != 2 || status.Remaining != 0 {
		t.Fatalf("unexpected package status: %+v", status)
	}

	resp = c.patch("/hr/upgrade-package", map[string]any{"teamLimit": 10}, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upgrade status: %d", resp.StatusCode)
	}
	upgraded := decode[inventory.User](t, resp)
	if upgraded.TeamLimit != 10 || !upgraded.Paid {
		t.Fatalf("unexpected upgrade: %+v", upgraded)
	}

	resp = c.patch("/hr/add-employee/"+e3.ID, nil, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add after upgrade status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.patch("/hr/remove-employee/"+e1.ID, nil, hr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove status: %d", resp.StatusCode)
	}
	removed := decode[teamChangeResponse](t, resp)
	if len(removed.Employees) != 1 || removed.Employees[0].CompanyID != "" || removed.Employees[0].JoinedTeam {
		t.Fatalf("membership not cleared: %+v", removed)
	}
	expectError(t, c.patch("/hr/remove-employee/"+e1.ID, nil, hr), http.StatusNotFound, "employee not found in team")
}

func TestAPIRequestAggregates(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	_, ann := c.signup(map[string]any{"email": "ann@acme.io", "name": "Ann"})
	_, bob := c.signup(map[string]any{"email": "bob@acme.io", "name": "Bob"})

	laptop := c.createAsset(hr, "Laptop", "returnable", 10)
	paper := c.createAsset(hr, "Paper", "non-returnable", 100)

	for _, h := range []map[string]string{ann, bob} {
		resp := c.post("/requests", map[string]any{"assetId": laptop.ID, "assetName": "Laptop", "assetType": "returnable"}, h)
		resp.Body.Close()
	}
	resp := c.post("/requests", map[string]any{"assetId": paper.ID, "assetName": "Paper", "assetType": "non-returnable"}, ann)
	resp.Body.Close()

	top := decode[[]inventory.AssetDemand](t, c.get("/hr/top-requested-assets", nil, hr))
	if len(top) != 2 || top[0].AssetID != laptop.ID || top[0].Count != 2 {
		t.Fatalf("unexpected top requested: %+v", top)
	}

	types := decode[[]inventory.TypeCount](t, c.get("/hr/requests-type-stats", nil, hr))
	counts := map[string]int{}
	for _, tc := range types {
		counts[tc.Type] = tc.Count
	}
	if counts["returnable"] != 2 || counts["non-returnable"] != 1 {
		t.Fatalf("unexpected type stats: %+v", types)
	}

	found := decode[[]inventory.Request](t, c.get("/hr/all-requests", url.Values{"search": {"ANN"}}, hr))
	if len(found) != 2 {
		t.Fatalf("expected 2 requests by ann, got %d", len(found))
	}
	for _, r := range found {
		if r.RequesterEmail != "ann@acme.io" {
			t.Fatalf("unexpected requester %q", r.RequesterEmail)
		}
	}

	expectError(t, c.post("/requests", map[string]any{"assetId": laptop.ID, "quantity": 0}, ann), http.StatusBadRequest, "quantity must be at least 1")
}

func TestAPIEventStream(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})
	_, emp := c.signup(map[string]any{"email": "emp@acme.io"})
	desk := c.createAsset(hr, "Desk", "returnable", 1)

	stream := c.get("/hr/events", nil, hr)
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", stream.StatusCode)
	}
	if ct := stream.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stream.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor(": stream started")

	resp := c.post("/requests", map[string]any{"assetId": desk.ID, "assetName": "Desk"}, emp)
	resp.Body.Close()

	waitFor("event: " + events.RequestCreated)
	data := strings.TrimPrefix(waitFor("data: "), "data: ")
	var evt events.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.AssetID != desk.ID || evt.Requester != "emp@acme.io" || evt.Status != inventory.StatusPending {
		t.Fatalf("unexpected event: %+v", evt)
	}

	expectError(t, c.get("/hr/events", nil, emp), http.StatusForbidden, "forbidden access")
}

func TestAPIShutdownEndsEventStreams(t *testing.T) {
	c := newTestAPI(t)
	_, hr := c.signup(map[string]any{"email": "hr@acme.io", "role": "hr"})

	stream := c.get("/hr/events", nil, hr)
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", stream.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := c.server.Config.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown with open stream: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown waited %v for the stream", elapsed)
	}
	if _, err := io.ReadAll(stream.Body); err != nil {
		t.Fatalf("stream did not end cleanly: %v", err)
	}
}

func TestAPISystemEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/", nil, nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "HR Manager is sitting" {
		t.Fatalf("unexpected banner %q", body)
	}

	health := decode[map[string]any](t, c.get("/healthz", nil, nil))
	if health["status"] != "ok" || health["version"] != "test" {
		t.Fatalf("unexpected health: %v", health)
	}

	ready := c.get("/readyz", nil, nil)
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("ready status: %d", ready.StatusCode)
	}
	ready.Body.Close()

	resp = c.get("/nope", nil, nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	expectError(t, resp, http.StatusNotFound, "route not found")

	expectError(t, c.post("/jwt", map[string]any{"email": " "}, nil), http.StatusBadRequest, "email is required")
}
