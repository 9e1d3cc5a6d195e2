package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeromicro/go-zero/core/logx"

	"tradelink/pkg/exchange"
)

const (
	venueName = "hyperliquid"

	mainnetURL = "https://api.hyperliquid.xyz"
	testnetURL = "https://api.hyperliquid-testnet.xyz"

	defaultHTTPTimeout  = 30 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryAttempts    = 3
	defaultSlippage     = "0.05"
)

// Venue trades Hyperliquid perpetuals for one API wallet.
type Venue struct {
	baseURL     string
	httpClient  *http.Client
	signer      Signer
	mainAddress string
	vault       string
	testnet     bool
	clock       func() time.Time
	backoff     time.Duration
	slippage    string

	nonceMu   sync.Mutex
	lastNonce int64

	assetMu sync.RWMutex
	assets  map[string]assetInfo
	maxLev  int

	settingsMu sync.Mutex
	leverage   map[string]int
	marginMode map[string]exchange.MarginMode
}

// Option customises the venue.
type Option func(*Venue)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(v *Venue) {
		if httpClient != nil {
			v.httpClient = httpClient
		}
	}
}

// WithBaseURL points the venue at another host, such as a test server.
func WithBaseURL(url string) Option {
	return func(v *Venue) {
		if url = strings.TrimRight(strings.TrimSpace(url), "/"); url != "" {
			v.baseURL = url
		}
	}
}

// WithTestnet selects the testnet host and signature source.
func WithTestnet(testnet bool) Option {
	return func(v *Venue) {
		v.testnet = testnet
		if testnet && v.baseURL == mainnetURL {
			v.baseURL = testnetURL
		}
	}
}

// WithMainAddress sets the account queried by info requests when the signing
// key is an API wallet acting for another address.
func WithMainAddress(addr string) Option {
	return func(v *Venue) {
		if common.IsHexAddress(addr) {
			v.mainAddress = strings.ToLower(common.HexToAddress(addr).Hex())
		}
	}
}

// WithVaultAddress trades on behalf of a vault or sub-account.
func WithVaultAddress(addr string) Option {
	return func(v *Venue) {
		if common.IsHexAddress(addr) {
			v.vault = strings.ToLower(common.HexToAddress(addr).Hex())
		}
	}
}

// WithClock overrides the time source used for nonces.
func WithClock(clock func() time.Time) Option {
	return func(v *Venue) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithRetryBackoff sets the first delay between info request retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(v *Venue) {
		if d > 0 {
			v.backoff = d
		}
	}
}

// WithSlippage sets the price band, as a fraction, used to turn market and
// stop-market orders into aggressive limit orders.
func WithSlippage(fraction string) Option {
	return func(v *Venue) {
		if fraction != "" {
			v.slippage = fraction
		}
	}
}

// New builds a venue signing with the given private key. No request is made
// until the first call.
func New(privateKeyHex string, opts ...Option) (*Venue, error) {
	if strings.TrimSpace(privateKeyHex) == "" {
		return nil, errors.New("hyperliquid: private key is required")
	}
	signer, err := NewKeySigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	v := &Venue{
		baseURL:    mainnetURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		signer:     signer,
		clock:      time.Now,
		backoff:    defaultRetryBackoff,
		slippage:   defaultSlippage,
		assets:     make(map[string]assetInfo),
		maxLev:     50,
		leverage:   make(map[string]int),
		marginMode: make(map[string]exchange.MarginMode),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func init() {
	exchange.RegisterVenue(venueName, func(cred exchange.Credential, opts exchange.VenueOptions) (exchange.Venue, error) {
		options := []Option{WithTestnet(cred.Sandbox())}
		if opts.Timeout > 0 {
			options = append(options, WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
		}
		if opts.BaseURL != "" {
			options = append(options, WithBaseURL(opts.BaseURL))
		}
		if cred.APIKey() != "" {
			options = append(options, WithMainAddress(cred.APIKey()))
		}
		return New(cred.APISecret(), options...)
	})
}

// Address is the account info requests are made for.
func (v *Venue) Address() string {
	if v.mainAddress != "" {
		return v.mainAddress
	}
	if v.vault != "" {
		return v.vault
	}
	return v.signer.Address()
}

// Close releases idle connections.
func (v *Venue) Close() error {
	v.httpClient.CloseIdleConnections()
	return nil
}

// info queries the read-only endpoint, retrying transport failures and
// server errors with exponential backoff. The response Date header is
// returned alongside the decoded body.
func (v *Venue) info(ctx context.Context, req InfoRequest, result any) (time.Time, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("hyperliquid: encode info request: %w", err)
	}
	backoff := v.backoff
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		body, header, status, err := v.post(ctx, "/info", payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			lastErr = err
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("hyperliquid: info %s http status %d: %s", req.Type, status, body)
		case status >= 300:
			return time.Time{}, exchange.Rejected(fmt.Sprintf("info %s: %s", req.Type, strings.TrimSpace(string(body))))
		default:
			if result != nil {
				if err := json.Unmarshal(body, result); err != nil {
					return time.Time{}, fmt.Errorf("hyperliquid: decode %s response: %w", req.Type, err)
				}
			}
			served, _ := http.ParseTime(header.Get("Date"))
			return served, nil
		}

		if attempt == maxRetryAttempts-1 {
			break
		}
		logx.WithContext(ctx).Slowf("hyperliquid: info %s attempt %d failed, retrying in %s: %v",
			req.Type, attempt+1, backoff, lastErr)
		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return time.Time{}, lastErr
}

// submit signs and sends an action. Exchange calls are never retried: a lost
// response may still have been applied.
func (v *Venue) submit(ctx context.Context, action Action) ([]actionStatus, error) {
	req, err := signAction(action, v.signer, v.nextNonce(), v.vault, !v.testnet)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: encode exchange request: %w", err)
	}
	body, _, status, err := v.post(ctx, "/exchange", payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("hyperliquid: exchange %s http status %d: %s", action.Type, status, body)
	}
	if status >= 300 {
		return nil, exchange.Rejected(strings.TrimSpace(string(body)))
	}

	var envelope exchangeResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode exchange response: %w", err)
	}
	if !strings.EqualFold(envelope.Status, "ok") {
		var msg string
		if err := json.Unmarshal(envelope.Response, &msg); err != nil || msg == "" {
			msg = strings.TrimSpace(string(envelope.Response))
		}
		return nil, exchange.Rejected(msg)
	}
	var inner exchangeResponseBody
	if len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, &inner); err != nil {
			return nil, fmt.Errorf("hyperliquid: decode %s response: %w", action.Type, err)
		}
	}
	statuses := make([]actionStatus, 0, len(inner.Data.Statuses))
	for _, raw := range inner.Data.Statuses {
		var st actionStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (v *Venue) post(ctx context.Context, path string, payload []byte) ([]byte, http.Header, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("hyperliquid: read response: %w", err)
	}
	return body, resp.Header, resp.StatusCode, nil
}

// nextNonce is the current millisecond, bumped so it never repeats.
func (v *Venue) nextNonce() int64 {
	v.nonceMu.Lock()
	defer v.nonceMu.Unlock()
	n := v.clock().UnixMilli()
	if n <= v.lastNonce {
		n = v.lastNonce + 1
	}
	v.lastNonce = n
	return n
}
