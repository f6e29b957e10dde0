package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"assetdesk.org/internal/inventory"
	"assetdesk.org/internal/obs"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) expect(ctx context.Context, want int, method, path, token string, body, out any) error {
	code, err := c.call(ctx, method, path, token, body, out)
	if err != nil {
		return err
	}
	if code != want {
		return fmt.Errorf("%s %s: expected %d, got %d", method, path, want, code)
	}
	return nil
}

type account struct {
	user  inventory.User
	token string
}

func (c *client) signup(ctx context.Context, body map[string]any) (account, error) {
	var created struct {
		User inventory.User `json:"user"`
	}
	if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/users", "", body, &created); err != nil {
		return account{}, err
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := c.expect(ctx, http.StatusOK, http.MethodPost, "/jwt", "", map[string]any{"email": created.User.Email}, &tok); err != nil {
		return account{}, err
	}
	if tok.Token == "" {
		return account{}, errors.New("empty token returned")
	}
	return account{user: created.User, token: tok.Token}, nil
}

func main() {
	var (
		baseURL = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers = flag.Int("workers", 8, "concurrent approvals to race against one asset")
		timeout = flag.Duration("timeout", 30*time.Second, "overall deadline")
	)
	flag.Parse()

	log := obs.Logger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}, *workers); err != nil {
		log.Fatal("smoke test failed", zap.Error(err))
	}
	log.Info("smoke test passed", zap.String("base_url", *baseURL))
}

func run(ctx context.Context, c *client, workers int) error {
	if workers < 2 {
		workers = 2
	}
	tag := uuid.NewString()[:8]
	log := obs.Logger().With(zap.String("run", tag))

	hr, err := c.signup(ctx, map[string]any{
		"email":       fmt.Sprintf("hr-%s@smoke.test", tag),
		"name":        "Smoke HR",
		"role":        "hr",
		"companyName": "Smoke " + tag,
		"teamLimit":   1,
	})
	if err != nil {
		return fmt.Errorf("hr signup: %w", err)
	}

	employees := make([]account, workers)
	for i := range employees {
		if employees[i], err = c.signup(ctx, map[string]any{
			"email": fmt.Sprintf("emp%d-%s@smoke.test", i, tag),
			"name":  fmt.Sprintf("Employee %d", i),
		}); err != nil {
			return fmt.Errorf("employee signup: %w", err)
		}
	}

	// Team capacity is one: the second add must be refused.
	if err := c.expect(ctx, http.StatusOK, http.MethodPatch, "/hr/add-employee/"+employees[0].user.ID, hr.token, nil, nil); err != nil {
		return err
	}
	if err := c.expect(ctx, http.StatusForbidden, http.MethodPatch, "/hr/add-employee/"+employees[1].user.ID, hr.token, nil, nil); err != nil {
		return fmt.Errorf("team limit: %w", err)
	}

	stock := workers / 2
	var asset inventory.Asset
	if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/assets", hr.token, map[string]any{
		"name":     "Smoke laptop " + tag,
		"type":     "returnable",
		"quantity": stock,
	}, &asset); err != nil {
		return err
	}

	requests := make([]inventory.Request, workers)
	for i, emp := range employees {
		if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/requests", emp.token, map[string]any{
			"assetId":   asset.ID,
			"assetName": asset.Name,
			"assetType": asset.Type,
			"quantity":  1,
		}, &requests[i]); err != nil {
			return err
		}
	}

	var approved, conflicts int64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, req := range requests {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			code, err := c.call(ctx, http.MethodPatch, "/hr/approve-request/"+id, hr.token, nil, nil)
			switch {
			case err != nil:
				errs <- err
			case code == http.StatusOK:
				atomic.AddInt64(&approved, 1)
			case code == http.StatusConflict:
				atomic.AddInt64(&conflicts, 1)
			default:
				errs <- fmt.Errorf("approve %s: unexpected status %d", id, code)
			}
		}(req.ID)
	}
	wg.Wait()
	close(errs)
	if err, ok := <-errs; ok {
		return err
	}

	var after inventory.Asset
	if err := c.expect(ctx, http.StatusOK, http.MethodGet, "/assets/"+asset.ID, "", nil, &after); err != nil {
		return err
	}
	if int(approved) != stock || after.AssignedQuantity != stock {
		return fmt.Errorf("over-assignment: approved=%d assigned=%d stock=%d", approved, after.AssignedQuantity, stock)
	}
	log.Info("approvals raced",
		zap.Int64("approved", approved),
		zap.Int64("conflicts", conflicts),
		zap.Int("assigned", after.AssignedQuantity),
	)

	var stats inventory.Stats
	if err := c.expect(ctx, http.StatusOK, http.MethodGet, "/hr/stats", hr.token, nil, &stats); err != nil {
		return err
	}
	if stats.TotalRequests < workers {
		return fmt.Errorf("stats report %d requests, want at least %d", stats.TotalRequests, workers)
	}

	if err := c.expect(ctx, http.StatusForbidden, http.MethodGet, "/hr/stats", employees[0].token, nil, nil); err != nil {
		return fmt.Errorf("hr gate: %w", err)
	}
	return nil
}
