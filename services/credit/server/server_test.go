package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"rwacredit/core"
	"rwacredit/core/events"
	"rwacredit/gateway/middleware"
	"rwacredit/native/credit"
	"rwacredit/state"
)

const testSecret = "server-test-secret"

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	lender = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

const day = 24 * 60 * 60

type apiFixture struct {
	t      *testing.T
	ledger *core.Ledger
	hub    *events.Hub
	srv    http.Handler
	clock  time.Time
}

func newAPIFixture(t *testing.T, auth middleware.AuthConfig) *apiFixture {
	t.Helper()
	return newAPIFixtureWith(t, auth, nil)
}

func newAPIFixtureWith(t *testing.T, auth middleware.AuthConfig, configure func(*Config)) *apiFixture {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := core.NewLedger(store, core.Config{USDAsset: "USDC", Risk: credit.DefaultRiskParameters()})
	require.NoError(t, err)
	hub := events.NewHub()
	ledger.SetPublisher(hub)

	cfg := Config{Ledger: ledger, Hub: hub, Auth: middleware.NewAuthenticator(auth, nil)}
	if configure != nil {
		configure(&cfg)
	}
	server, err := New(cfg)
	require.NoError(t, err)
	f := &apiFixture{t: t, ledger: ledger, hub: hub, srv: server.Handler(), clock: time.Unix(1_700_000_000, 0)}
	ledger.SetNowFunc(func() time.Time { return f.clock })
	return f
}

func (f *apiFixture) seed() {
	ctx := context.Background()
	for _, addr := range []common.Address{owner, lender} {
		_, err := f.ledger.Allow(ctx, addr)
		require.NoError(f.t, err)
	}
	_, err := f.ledger.Mint(ctx, owner, "TBILL", big.NewInt(1_000_000))
	require.NoError(f.t, err)
	_, err = f.ledger.Mint(ctx, lender, "USDC", big.NewInt(10_000_000_000))
	require.NoError(f.t, err)
	_, err = f.ledger.FundPool(ctx, lender, big.NewInt(5_000_000_000))
	require.NoError(f.t, err)
}

func (f *apiFixture) do(method, path, subject string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("X-Subject", subject)
	}
	res := httptest.NewRecorder()
	f.srv.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), out))
}

func TestOpenBorrowAndReadPosition(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	f.seed()

	res := f.do(http.MethodPost, "/v1/positions", owner.Hex(), map[string]interface{}{
		"asset": "tbill", "amount": "1000000", "valueUsd": "1000000000", "tokenType": "RWA",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var opened struct {
		TxRef  string            `json:"txRef"`
		Result map[string]uint64 `json:"result"`
	}
	decode(t, res, &opened)
	require.NotEmpty(t, opened.TxRef)
	require.Equal(t, uint64(1), opened.Result["positionId"])

	res = f.do(http.MethodPost, "/v1/positions/1/borrow", owner.Hex(), map[string]interface{}{
		"amount": "700000000", "duration": 90 * day, "installments": 3,
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = f.do(http.MethodGet, "/v1/positions/1", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var view positionView
	decode(t, res, &view)
	require.Equal(t, "700000000", view.PrincipalBorrowed)
	require.Equal(t, "700000000", view.OutstandingDebt)
	require.NotNil(t, view.Plan)
	require.Equal(t, uint64(3), view.Plan.Installments)

	res = f.do(http.MethodGet, "/v1/pool", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var pool poolView
	decode(t, res, &pool)
	require.Equal(t, "4300000000", pool.Available)
}

func TestErrorTaxonomyMapsToStatus(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	f.seed()

	res := f.do(http.MethodGet, "/v1/positions/42", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = f.do(http.MethodPost, "/v1/positions", owner.Hex(), map[string]interface{}{
		"asset": "TBILL", "amount": "1000000", "valueUsd": "1000000000", "tokenType": "RWA",
	})
	require.Equal(t, http.StatusCreated, res.Code)

	res = f.do(http.MethodPost, "/v1/positions/1/borrow", owner.Hex(), map[string]interface{}{
		"amount": "700000001", "duration": 90 * day, "installments": 3,
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	var body errorBody
	decode(t, res, &body)
	require.Equal(t, string(credit.ClassValidation), body.Class)

	res = f.do(http.MethodPost, "/v1/positions/1/borrow", lender.Hex(), map[string]interface{}{
		"amount": "1", "duration": 90 * day, "installments": 3,
	})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(http.MethodPost, "/v1/positions/1/withdraw", owner.Hex(), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = f.do(http.MethodPost, "/v1/positions/1/borrow", owner.Hex(), map[string]interface{}{
		"amount": "1", "duration": 90 * day, "installments": 3,
	})
	require.Equal(t, http.StatusConflict, res.Code)

	res = f.do(http.MethodPost, "/v1/pool/withdraw", lender.Hex(), map[string]string{"amount": "6000000000"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = f.do(http.MethodPost, "/v1/pool/fund", lender.Hex(), map[string]string{"amount": "ten"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = f.do(http.MethodPost, "/v1/pool/fund", "", map[string]string{"amount": "10"})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestPausedModuleReturnsConflict(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	f.seed()

	res := f.do(http.MethodPost, "/v1/pauses/credit", "", map[string]bool{"paused": true})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/pool/fund", lender.Hex(), map[string]string{"amount": "10"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = f.do(http.MethodPost, "/v1/pauses/credit", "", map[string]bool{"paused": false})
	require.Equal(t, http.StatusOK, res.Code)
	res = f.do(http.MethodPost, "/v1/pool/fund", lender.Hex(), map[string]string{"amount": "10"})
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(http.MethodPost, "/v1/pauses/oracle", "", map[string]bool{"paused": true})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRequestBodyLimit(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	payload := `{"address":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/allowlist", strings.NewReader(payload))
	res := httptest.NewRecorder()
	f.srv.ServeHTTP(res, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
}

func TestScopesGateAdminRoutes(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{Enabled: true, HMACSecret: testSecret})
	sign := func(scope string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   lender.Hex(),
			"scope": scope,
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)
		return signed
	}
	call := func(path, token string, body interface{}) int {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		res := httptest.NewRecorder()
		f.srv.ServeHTTP(res, req)
		return res.Code
	}

	allow := map[string]string{"address": lender.Hex()}
	require.Equal(t, http.StatusUnauthorized, call("/v1/allowlist", "", allow))
	require.Equal(t, http.StatusForbidden, call("/v1/allowlist", sign("investor"), allow))
	require.Equal(t, http.StatusOK, call("/v1/allowlist", sign("admin"), allow))
	require.Equal(t, http.StatusOK, call("/v1/mint", sign("admin"), map[string]string{"to": lender.Hex(), "asset": "USDC", "amount": "100"}))
	require.Equal(t, http.StatusOK, call("/v1/pool/fund", sign("investor"), map[string]string{"amount": "100"}))
}

func TestSettlementDistributeAndExport(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	f.seed()
	f.clock = f.clock.Add(10 * day * time.Second)

	res := f.do(http.MethodGet, "/v1/settlements/TBILL", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = f.do(http.MethodPost, "/v1/settlements", "", map[string]string{
		"funder": lender.Hex(), "asset": "TBILL", "total": "1000000",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = f.do(http.MethodGet, "/v1/settlements/tbill", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var batch settlementView
	decode(t, res, &batch)
	require.Equal(t, uint64(1), batch.ID)
	require.False(t, batch.Distributed)

	res = f.do(http.MethodPost, "/v1/settlements/1/distribute", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var distributed struct {
		Result struct {
			Processed int  `json:"processed"`
			Done      bool `json:"done"`
		} `json:"result"`
	}
	decode(t, res, &distributed)
	require.True(t, distributed.Result.Done)
	require.Equal(t, 1, distributed.Result.Processed)

	res = f.do(http.MethodGet, "/v1/settlements/1/claims/"+owner.Hex(), "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var claim claimView
	decode(t, res, &claim)
	require.Equal(t, "1000000", claim.Entitlement)
	require.Equal(t, "10000000", claim.TokenDays)

	res = f.do(http.MethodGet, "/v1/settlements/1/claims?format=csv", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "text/csv", res.Header().Get("Content-Type"))
	require.NotEmpty(t, res.Header().Get("X-Content-SHA256"))
	lines := strings.Split(strings.TrimSpace(res.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "settlement_id"))

	res = f.do(http.MethodGet, "/v1/settlements/abc/claims", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBalanceReportsTokenDays(t *testing.T) {
	f := newAPIFixture(t, middleware.AuthConfig{})
	f.seed()
	f.clock = f.clock.Add(2 * day * time.Second)

	res := f.do(http.MethodGet, "/v1/balances/"+owner.Hex()+"/tbill", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var view map[string]string
	decode(t, res, &view)
	require.Equal(t, "1000000", view["balance"])
	require.Equal(t, "2000000", view["tokenDays"])

	res = f.do(http.MethodGet, "/v1/balances/"+lender.Hex()+"/USDC", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	view = nil
	decode(t, res, &view)
	require.Equal(t, "5000000000", view["balance"])
	require.NotContains(t, view, "tokenDays")
}
