// Package ledger is a Go client for the confidential scoring ledger REST API.
// Requests that need a caller identity are signed with the client's key.
package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ConfidentialLedger/internal/api"
	"ConfidentialLedger/internal/auth"
	"ConfidentialLedger/internal/decryption"
	"ConfidentialLedger/internal/fhe"
	"ConfidentialLedger/internal/record"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

type (
	// Metadata is the public view of a record.
	Metadata = record.Metadata
	// Fulfillment is a signed oracle result.
	Fulfillment = decryption.Fulfillment
	// KeyInfo carries the parameters clients need to encrypt and attest.
	KeyInfo = api.KeyInfo
)

// Client wraps the HTTP interactions with the ledger REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	now        func() time.Time
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ledger api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger api error (%d): %s", e.StatusCode, e.Message)
}

// Pending reports whether the error means the decryption result is not yet available.
func (e *APIError) Pending() bool {
	return e != nil && e.StatusCode == http.StatusAccepted
}

// IsPending reports whether err is an APIError signalling a pending result.
func IsPending(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Pending()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSigner sets the key used to sign requests.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *Client) {
		c.key = key
	}
}

// NewClient instantiates a client for the ledger API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CreateRecord submits encrypted inputs with their attestation and payment.
func (c *Client) CreateRecord(ctx context.Context, inputs []*fhe.Ciphertext, proof []byte, payment *big.Int) (uint64, error) {
	if payment == nil {
		payment = new(big.Int)
	}
	var out api.CreateRecordResponse
	err := c.post(ctx, "/api/v1/records", api.CreateRecordRequest{
		Inputs:  inputs,
		Proof:   proof,
		Payment: payment.String(),
	}, &out, true)
	return out.ID, err
}

// GetRecord fetches record metadata.
func (c *Client) GetRecord(ctx context.Context, id uint64) (Metadata, error) {
	var meta Metadata
	err := c.get(ctx, "/api/v1/records/"+strconv.FormatUint(id, 10), nil, &meta, false)
	return meta, err
}

// ListRecords returns the record ids owned by owner.
func (c *Client) ListRecords(ctx context.Context, owner common.Address) ([]uint64, error) {
	var out api.ListRecordsResponse
	err := c.get(ctx, "/api/v1/records", url.Values{"owner": {owner.Hex()}}, &out, false)
	return out.IDs, err
}

// RequestDecryption asks the ledger to decrypt a record's score.
func (c *Client) RequestDecryption(ctx context.Context, id uint64) (string, error) {
	var out api.DecryptionRequestResponse
	err := c.post(ctx, "/api/v1/records/"+strconv.FormatUint(id, 10)+"/decryption", nil, &out, true)
	return out.RequestID, err
}

// RetrieveDecryption returns the plaintext score. A pending result yields an
// error for which IsPending is true.
func (c *Client) RetrieveDecryption(ctx context.Context, id uint64) (uint64, error) {
	var out api.DecryptionResultResponse
	err := c.get(ctx, "/api/v1/records/"+strconv.FormatUint(id, 10)+"/decryption", nil, &out, true)
	return out.Value, err
}

// WaitForDecryption polls until the result is available or ctx ends.
func (c *Client) WaitForDecryption(ctx context.Context, id uint64, interval time.Duration) (uint64, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		value, err := c.RetrieveDecryption(ctx, id)
		if err == nil || !IsPending(err) {
			return value, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Withdraw drains the ledger balance to the signer.
func (c *Client) Withdraw(ctx context.Context) (*big.Int, error) {
	var out api.AmountResponse
	if err := c.post(ctx, "/api/v1/treasury/withdraw", nil, &out, true); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

// Balance returns the accumulated balance.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	var out api.AmountResponse
	if err := c.get(ctx, "/api/v1/treasury/balance", nil, &out, false); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

// Keys fetches the public encryption and verification parameters.
func (c *Client) Keys(ctx context.Context) (KeyInfo, error) {
	var info KeyInfo
	err := c.get(ctx, "/api/v1/keys", nil, &info, false)
	return info, err
}

// SubmitFulfillment delivers an oracle result.
func (c *Client) SubmitFulfillment(ctx context.Context, f Fulfillment) error {
	return c.post(ctx, "/api/v1/oracle/fulfillments", f, nil, false)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, signed bool) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body, signed)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any, signed bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil, signed)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body []byte, signed bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if signed {
		if c.key == nil {
			return nil, errors.New("ledger: signing key is not set")
		}
		if err := auth.SignRequest(req, c.key, body, c.now()); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	// 202 携带错误体时表示结果尚未就绪。
	if resp.StatusCode >= 400 || (resp.StatusCode == http.StatusAccepted && bytes.Contains(data, []byte(`"error"`))) {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}); err != nil {
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
