package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"rwacredit/core/types"
	"rwacredit/gateway/middleware"
	"rwacredit/native/bank"
	"rwacredit/native/compliance"
	"rwacredit/native/credit"
)

func TestEventStreamFiltersByTypePrefix(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newAPIFixtureWith(t, middleware.AuthConfig{}, func(cfg *Config) {
		cfg.Observability = middleware.NewObservability("stream-test", logger, false)
	})
	f.seed()

	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream?types=credit.pool,compliance."
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, err = f.ledger.Mint(ctx, owner, "TBILL", big.NewInt(5))
	require.NoError(t, err)
	_, err = f.ledger.FundPool(ctx, lender, big.NewInt(1_000))
	require.NoError(t, err)
	_, err = f.ledger.Allow(ctx, common.HexToAddress("0x00000000000000000000000000000000000000c3"))
	require.NoError(t, err)

	var got []*types.Event
	for len(got) < 2 {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt types.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		got = append(got, &evt)
	}
	require.Equal(t, credit.EventTypePoolFunded, got[0].Type)
	require.NotEmpty(t, got[0].TxRef)
	require.Equal(t, compliance.EventTypeAllowed, got[1].Type)
	for _, evt := range got {
		require.NotEqual(t, bank.EventTypeMinted, evt.Type)
		require.NotEqual(t, bank.EventTypeTransferred, evt.Type)
	}
}

func TestMatchesPrefix(t *testing.T) {
	prefixes := splitPrefixes(" credit.loan , ,yield.")
	require.Equal(t, []string{"credit.loan", "yield."}, prefixes)
	require.True(t, matchesPrefix("credit.loan.repaid", prefixes))
	require.True(t, matchesPrefix("yield.claimed", prefixes))
	require.False(t, matchesPrefix("credit.pool.funded", prefixes))
	require.True(t, matchesPrefix("bank.minted", nil))
}
