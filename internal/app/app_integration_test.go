//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
	"github.com/xenking/storefront-checkout/pkg/health"
)

var (
	baseURL    string
	httpClient *http.Client
	adminToken string
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("shop"),
		tcpostgres.WithPassword("shop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}

	cfg := validConfig()
	cfg.Storage = StoragePostgres
	cfg.DatabaseURL = dsn

	h := health.New()
	stores, closeStores, err := openStores(ctx, cfg, h)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer closeStores()
	h.SetReady(true)

	srvCtx, stop := context.WithCancel(context.Background())
	defer stop()
	handler, err := NewHTTPHandler(srvCtx, cfg, Deps{
		Stores:      stores,
		Revocations: memory.NewRevocations(),
		Health:      h,
		Telemetry:   noopTelemetry{},
	})
	if err != nil {
		log.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	baseURL = srv.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}

	if adminToken, err = createAdmin(ctx, stores.Users); err != nil {
		log.Fatalf("create admin: %v", err)
	}

	return m.Run()
}

func createAdmin(ctx context.Context, users auth.UserRepository) (string, error) {
	hash, err := auth.HashPassword("integration-admin", 4)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if err := users.Create(ctx, &auth.User{
		ID: "admin", Name: "Admin", Email: "admin@shop.test", PhoneNum: "0",
		PasswordHash: hash, Role: auth.RoleAdmin, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	resp, body := doJSON(nil, http.MethodPost, "/api/auth/signin", "",
		map[string]any{"email": "admin@shop.test", "password": "integration-admin"})
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode, body: string(body)}
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return "", err
	}
	return session.Token, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string { return http.StatusText(e.code) + ": " + e.body }

// doJSON sends body as JSON and returns the response with its body read.
// t may be nil outside of tests.
func doJSON(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	if t != nil {
		t.Helper()
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, r)
	if err != nil {
		panic(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		if t != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		panic(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		panic(err)
	}
	return resp, data
}

type productResponse struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Variants []struct {
		ID    string `json:"id"`
		Stock int    `json:"stock"`
		Sold  int    `json:"sold"`
	} `json:"variants"`
}

func createProduct(t *testing.T, title string, price int64, stock int) productResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, "/api/products", adminToken, map[string]any{
		"title":    title,
		"brand":    "Integration",
		"category": "Tests",
		"variants": []map[string]any{{"name": "One", "price": price, "stock": stock}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var p productResponse
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func getProduct(t *testing.T, slug string) productResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, "/api/products/by-slug/"+slug, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var p productResponse
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func orderPayload(variantID string, qty int, code string) map[string]any {
	m := map[string]any{
		"fullName":      "Integration Buyer",
		"email":         "buyer@shop.test",
		"phoneNum":      "+10000000",
		"addressDetail": "1 Test Way",
		"items":         []map[string]any{{"variantId": variantID, "quantity": qty}},
	}
	if code != "" {
		m["discountCode"] = code
	}
	return m
}

func TestIntegration_Readyz(t *testing.T) {
	resp, body := doJSON(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestIntegration_LastUnitRace(t *testing.T) {
	p := createProduct(t, "Last Unit Lamp", 4200, 1)
	variant := p.Variants[0].ID

	const n = 10
	codes := make([]int, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			resp, _ := doJSON(nil, http.MethodPost, "/api/orders", "", orderPayload(variant, 1, ""))
			codes[i] = resp.StatusCode
			return nil
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)

	after := getProduct(t, p.Slug)
	assert.Equal(t, 0, after.Variants[0].Stock)
	assert.Equal(t, 1, after.Variants[0].Sold)
}

func TestIntegration_SingleUseDiscountRace(t *testing.T) {
	p := createProduct(t, "Discount Race Mug", 1000, 100)
	variant := p.Variants[0].ID

	resp, body := doJSON(t, http.MethodPost, "/api/discounts", adminToken,
		map[string]any{"code": "RACE1", "discountValue": 500, "usageLimit": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	const n = 8
	codes := make([]int, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			resp, _ := doJSON(nil, http.MethodPost, "/api/orders", "", orderPayload(variant, 1, "RACE1"))
			codes[i] = resp.StatusCode
			return nil
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
	// Losers roll back completely.
	assert.Equal(t, 99, getProduct(t, p.Slug).Variants[0].Stock)
}

func TestIntegration_IdempotentCheckout(t *testing.T) {
	p := createProduct(t, "Idempotent Tee", 1500, 5)
	payload := orderPayload(p.Variants[0].ID, 2, "")

	send := func() (*http.Response, []byte) {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, baseURL+"/api/orders", bytes.NewReader(b))
		require.NoError(t, err)
		req.Header.Set("Idempotency-Key", "integration-key-1")
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, data
	}

	first, firstBody := send()
	require.Equal(t, http.StatusCreated, first.StatusCode, string(firstBody))
	second, secondBody := send()
	require.Equal(t, http.StatusOK, second.StatusCode, string(secondBody))

	var a, b struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(firstBody, &a))
	require.NoError(t, json.Unmarshal(secondBody, &b))
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 3, getProduct(t, p.Slug).Variants[0].Stock)
}

func TestIntegration_OrderLifecycle(t *testing.T) {
	p := createProduct(t, "Lifecycle Hat", 900, 3)
	resp, body := doJSON(t, http.MethodPost, "/api/orders", "", orderPayload(p.Variants[0].ID, 1, ""))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &o))

	for _, step := range []struct {
		status string
		want   int
	}{
		{"SHIPPING", http.StatusOK},
		{"PENDING", http.StatusConflict},
		{"CANCELLED", http.StatusOK},
		{"COMPLETED", http.StatusConflict},
	} {
		resp, body := doJSON(t, http.MethodPatch, "/api/orders/"+o.ID+"/status", adminToken,
			map[string]any{"status": step.status})
		assert.Equal(t, step.want, resp.StatusCode, "%s: %s", step.status, body)
	}

	resp, _ = doJSON(t, http.MethodGet, "/api/orders/"+o.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
