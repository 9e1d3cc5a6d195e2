package hyperliquid

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082796fe3f6a4ab2ed5f8d2"

var serverTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const metaFixture = `[
 {"universe":[
   {"name":"BTC","szDecimals":5,"maxLeverage":50},
   {"name":"ETH","szDecimals":4,"maxLeverage":25},
   {"name":"OLD","szDecimals":2,"maxLeverage":75,"isDelisted":true},
   {"name":"ISO","szDecimals":1,"maxLeverage":10,"onlyIsolated":true}
 ]},
 [
   {"markPx":"50000.0","midPx":"50000.5","oraclePx":"49990.0","prevDayPx":"48000.0","dayBaseVlm":"1234.5"},
   {"markPx":"3000.0","midPx":"3000.1","oraclePx":"2999.0","prevDayPx":"2900.0","dayBaseVlm":"9000"},
   {"markPx":"1.0","midPx":"1.0","oraclePx":"1.0","prevDayPx":"1.0","dayBaseVlm":"0"},
   {"markPx":"2.5","midPx":"2.5","oraclePx":"2.5","prevDayPx":"2.4","dayBaseVlm":"10"}
 ]
]`

// fakeExchange serves the info and exchange endpoints from fixtures and
// records every signed action after checking its signature.
type fakeExchange struct {
	t       *testing.T
	server  *httptest.Server
	mainnet bool
	signer  string

	mu          sync.Mutex
	info        map[string]string
	infoCalls   map[string]int
	infoBodies  []InfoRequest
	failInfo    int
	failStatus  int
	actions     []ExchangeRequest
	replies     []string
	exchangeErr int
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	signer, err := NewKeySigner(testKey)
	require.NoError(t, err)
	f := &fakeExchange{
		t:         t,
		signer:    signer.Address(),
		infoCalls: make(map[string]int),
		info: map[string]string{
			"meta":             `{"universe":[]}`,
			"metaAndAssetCtxs": metaFixture,
			"allMids":          `{"BTC":"50000","ETH":"3000"}`,
		},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeExchange) venue(t *testing.T, opts ...Option) *Venue {
	t.Helper()
	base := []Option{
		WithBaseURL(f.server.URL),
		WithTestnet(!f.mainnet),
		WithRetryBackoff(time.Millisecond),
	}
	v, err := New(testKey, append(base, opts...)...)
	require.NoError(t, err)
	return v
}

func (f *fakeExchange) setInfo(typ, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info[typ] = body
}

func (f *fakeExchange) reply(bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, bodies...)
}

func (f *fakeExchange) calls(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls[typ]
}

func (f *fakeExchange) lastAction() ExchangeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.actions, "no exchange action recorded")
	return f.actions[len(f.actions)-1]
}

func (f *fakeExchange) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(f.t, err)
	w.Header().Set("Date", serverTime.Format(http.TimeFormat))
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/info":
		var req InfoRequest
		require.NoError(f.t, json.Unmarshal(body, &req))
		f.infoCalls[req.Type]++
		f.infoBodies = append(f.infoBodies, req)
		if f.failInfo > 0 {
			f.failInfo--
			w.WriteHeader(f.failStatus)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
			return
		}
		resp, ok := f.info[req.Type]
		if !ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("Failed to deserialize the JSON body"))
			return
		}
		_, _ = w.Write([]byte(resp))
	case "/exchange":
		var req ExchangeRequest
		require.NoError(f.t, json.Unmarshal(body, &req))
		f.verify(req)
		f.actions = append(f.actions, req)
		if f.exchangeErr > 0 {
			w.WriteHeader(f.exchangeErr)
			return
		}
		reply := `{"status":"ok","response":{"type":"default"}}`
		if len(f.replies) > 0 {
			reply, f.replies = f.replies[0], f.replies[1:]
		}
		_, _ = w.Write([]byte(reply))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// verify recovers the signer of order and leverage actions. Cancel payloads
// decode into generic maps whose msgpack form is not stable, so they are
// only checked for shape.
func (f *fakeExchange) verify(req ExchangeRequest) {
	require.Positive(f.t, req.Nonce)
	require.True(f.t, strings.HasPrefix(req.Signature.R, "0x"))
	if req.Action.Cancels != nil {
		return
	}
	digest, err := actionDigest(req.Action, req.Nonce, req.VaultAddress, f.mainnet)
	require.NoError(f.t, err)
	sig := append(common.FromHex(req.Signature.R), common.FromHex(req.Signature.S)...)
	sig = append(sig, byte(req.Signature.V-27))
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(f.t, err)
	require.Equal(f.t, f.signer, strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()))
}
