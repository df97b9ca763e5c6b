package lightning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brianmurray333/ganamos-sub006/internal/sentinel"
)

// LNDClient talks to an LND node over its REST API. The node itself is a
// black box: this adapter only creates invoices and reads settlement state.
type LNDClient struct {
	host        string
	macaroonHex string
	httpClient  *http.Client
}

// LNDConfig holds connection settings for the LND REST endpoint.
type LNDConfig struct {
	// Host is the REST base URL, e.g. "https://lnd.example.com:8080".
	Host        string
	MacaroonHex string
	Timeout     time.Duration
}

// NewLND creates an LND-backed settlement oracle.
func NewLND(cfg LNDConfig) (*LNDClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("lnd host is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &LNDClient{
		host:        cfg.Host,
		macaroonHex: cfg.MacaroonHex,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type lndAddInvoiceRequest struct {
	Memo  string `json:"memo,omitempty"`
	Value string `json:"value"`
}

type lndAddInvoiceResponse struct {
	RHash          string `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
}

type lndLookupInvoiceResponse struct {
	Settled    bool   `json:"settled"`
	AmtPaidSat string `json:"amt_paid_sat"`
	State      string `json:"state"`
}

// CreateInvoice registers a new invoice on the node for the given amount.
func (c *LNDClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	body, err := json.Marshal(lndAddInvoiceRequest{
		Memo:  memo,
		Value: fmt.Sprintf("%d", amountSats),
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("marshal invoice request: %w", err)
	}

	var resp lndAddInvoiceResponse
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", bytes.NewReader(body), &resp); err != nil {
		return Invoice{}, err
	}

	hash, err := base64.StdEncoding.DecodeString(resp.RHash)
	if err != nil {
		return Invoice{}, fmt.Errorf("decode payment hash: %w", err)
	}
	return Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hash,
	}, nil
}

// LookupInvoice returns the current settlement state for a payment hash.
func (c *LNDClient) LookupInvoice(ctx context.Context, paymentHash []byte) (Settlement, error) {
	path := "/v1/invoice/" + hex.EncodeToString(paymentHash)

	var resp lndLookupInvoiceResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Settlement{}, err
	}

	var amount int64
	if resp.AmtPaidSat != "" {
		v, err := strconv.ParseInt(resp.AmtPaidSat, 10, 64)
		if err != nil {
			return Settlement{}, fmt.Errorf("parse amt_paid_sat %q: %w", resp.AmtPaidSat, err)
		}
		amount = v
	}
	return Settlement{
		Settled:        resp.Settled || resp.State == "SETTLED",
		AmountPaidSats: amount,
	}, nil
}

func (c *LNDClient) do(ctx context.Context, method, path string, body *bytes.Reader, out any) error {
	u, err := url.JoinPath(c.host, path)
	if err != nil {
		return fmt.Errorf("build lnd url: %w", err)
	}

	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return fmt.Errorf("build lnd request: %w", err)
	}
	if c.macaroonHex != "" {
		req.Header.Set("Grpc-Metadata-Macaroon", c.macaroonHex)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lnd request failed: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return sentinel.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("lnd returned status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode lnd response: %w", err)
	}
	return nil
}

var _ Oracle = (*LNDClient)(nil)
