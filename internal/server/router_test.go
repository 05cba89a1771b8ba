package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/ethereum"
	"github.com/Gazprom100/TAPDEL-sub000/internal/chains/fakechain"
	"github.com/Gazprom100/TAPDEL-sub000/internal/events"
	"github.com/Gazprom100/TAPDEL-sub000/internal/handler"
	"github.com/Gazprom100/TAPDEL-sub000/internal/nonce"
	"github.com/Gazprom100/TAPDEL-sub000/internal/repository/memory"
	"github.com/Gazprom100/TAPDEL-sub000/internal/security"
	"github.com/Gazprom100/TAPDEL-sub000/internal/usecase"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const destination = "0x000000000000000000000000000000000000dEaD"

type noSecrets struct{}

func (noSecrets) GetSecret(context.Context, string) (string, error) {
	return "", security.ErrSecretNotFound
}

type signerState struct {
	halted bool
}

func (s signerState) Halted() bool { return s.halted }
func (s signerState) Leader() bool { return true }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	store   *memory.Store
	custody string
	router  http.Handler
}

func newTestAPI(t *testing.T, signer SignerStatus, db Pinger) *testAPI {
	t.Helper()
	logger := zap.NewNop()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	blob, err := security.EncryptKeystore(key, "pass", true)
	require.NoError(t, err)
	custody := crypto.PubkeyToAddress(key.PublicKey).Hex()

	store := memory.NewStore()
	chain := fakechain.New()
	bus := events.NewBus(events.NewMemoryPublisher(), logger)

	deposits := usecase.NewDepositUsecase(store, store, store, chain, nil, bus, usecase.DepositSettings{
		Address:          custody,
		ChainID:          1337,
		Decimals:         ethereum.NativeDecimals,
		Symbol:           "DEL",
		IntentTTL:        30 * time.Minute,
		Confirmations:    6,
		MaxBlocksPerTick: 50,
		FetchConcurrency: 2,
		Granularity:      decimal.RequireFromString("0.0001"),
		Slots:            999,
		MaxAttempts:      8,
		Epsilon:          decimal.RequireFromString("0.00005"),
		MinAmount:        decimal.RequireFromString("0.01"),
	}, logger)
	withdrawals := usecase.NewWithdrawalUsecase(
		store.Withdrawals(), store, chain,
		security.NewKeyVault(blob, custody, "pass", noSecrets{}, logger),
		nonce.NewAllocator(nil, chain, time.Minute, logger),
		bus,
		usecase.WithdrawalSettings{
			Address:     custody,
			ChainID:     big.NewInt(1337),
			Decimals:    ethereum.NativeDecimals,
			GasLimit:    21000,
			MaxGasPrice: ethereum.GweiToWei(100),
			MinAmount:   decimal.RequireFromString("0.01"),
		},
		logger,
	)
	reconciler := usecase.NewReconcileUsecase(store, bus, decimal.RequireFromString("0.0001"), logger)

	return &testAPI{
		store:   store,
		custody: custody,
		router: NewRouter(Handlers{
			Deposits:    handler.NewDepositHandler(deposits, logger),
			Withdrawals: handler.NewWithdrawalHandler(withdrawals, logger),
			Admin:       handler.NewAdminHandler(deposits, reconciler, logger),
		}, signer, db),
	}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var out apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestCreateDepositIntent(t *testing.T) {
	api := newTestAPI(t, signerState{}, nil)

	code, resp := api.do(t, http.MethodPost, "/v1/deposits", `{"user_id":"user-a","amount":"10"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "success", resp.Status)

	var intent struct {
		ID           string `json:"id"`
		UniqueAmount string `json:"unique_amount"`
		Address      string `json:"address"`
		Status       string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &intent))
	assert.Equal(t, api.custody, intent.Address)
	assert.Equal(t, "waiting", intent.Status)
	unique := decimal.RequireFromString(intent.UniqueAmount)
	assert.True(t, unique.GreaterThan(decimal.NewFromInt(10)))

	code, resp = api.do(t, http.MethodGet, "/v1/deposits/"+intent.ID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)

	code, resp = api.do(t, http.MethodGet, "/v1/users/user-a/deposits?page=1&page_size=10", "")
	assert.Equal(t, http.StatusOK, code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)
}

func TestCreateDepositIntentErrors(t *testing.T) {
	api := newTestAPI(t, signerState{}, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"user_id":`, http.StatusBadRequest},
		{"unknown field", `{"user_id":"u","amount":"1","memo":"x"}`, http.StatusBadRequest},
		{"missing user", `{"amount":"10"}`, http.StatusBadRequest},
		{"below minimum", `{"user_id":"u","amount":"0.001"}`, http.StatusBadRequest},
		{"too precise", `{"user_id":"u","amount":"1.00001"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := api.do(t, http.MethodPost, "/v1/deposits", tt.body)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, "error", resp.Status)
			assert.NotEmpty(t, resp.Message)
		})
	}

	code, _ := api.do(t, http.MethodGet, "/v1/deposits/dep_missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWithdrawalLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, signerState{}, nil)
	api.store.SetBalance("user-a", decimal.NewFromInt(10))

	code, _ := api.do(t, http.MethodPost, "/v1/withdrawals",
		`{"user_id":"user-a","to_address":"`+destination+`","amount":"25"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = api.do(t, http.MethodPost, "/v1/withdrawals",
		`{"user_id":"user-a","to_address":"not-an-address","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := api.do(t, http.MethodPost, "/v1/withdrawals",
		`{"user_id":"user-a","to_address":"`+destination+`","amount":"4"}`)
	require.Equal(t, http.StatusAccepted, code)
	var wr struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &wr))
	assert.Equal(t, "queued", wr.Status)

	var bal struct {
		Balance string `json:"balance"`
	}
	_, resp = api.do(t, http.MethodGet, "/v1/users/user-a/balance", "")
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.Equal(t, "6", bal.Balance)

	code, resp = api.do(t, http.MethodPost, "/v1/withdrawals/"+wr.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &wr))
	assert.Equal(t, "refunded", wr.Status)

	code, _ = api.do(t, http.MethodPost, "/v1/withdrawals/"+wr.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code)

	_, resp = api.do(t, http.MethodGet, "/v1/users/user-a/balance", "")
	require.NoError(t, json.Unmarshal(resp.Data, &bal))
	assert.Equal(t, "10", bal.Balance)

	code, resp = api.do(t, http.MethodGet, "/v1/users/user-a/withdrawals", "")
	assert.Equal(t, http.StatusOK, code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 1)
}

func TestAdminEndpoints(t *testing.T) {
	api := newTestAPI(t, signerState{}, nil)
	api.store.SetBalance("user-a", decimal.NewFromInt(3))

	code, _ := api.do(t, http.MethodPost, "/v1/admin/users/nobody/reconcile", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp := api.do(t, http.MethodPost, "/v1/admin/users/user-a/reconcile", "")
	require.Equal(t, http.StatusOK, code)
	var rec struct {
		Corrected bool   `json:"corrected"`
		Delta     string `json:"delta"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.True(t, rec.Corrected)
	assert.Equal(t, "-3", rec.Delta)

	code, resp = api.do(t, http.MethodGet, "/v1/admin/unmatched-transfers", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestHealthz(t *testing.T) {
	code, resp := newTestAPI(t, signerState{}, pinger{}).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", resp.Status)

	code, resp = newTestAPI(t, signerState{halted: true}, pinger{}).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, string(resp.Data), `"signer":"halted"`)

	code, resp = newTestAPI(t, signerState{}, pinger{err: errors.New("down")}).do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(resp.Data), `"database":"unreachable"`)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, signerState{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
