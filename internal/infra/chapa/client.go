package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/httpclient"
)

const maxResponseBytes = 1 << 20

var ErrNoCheckoutURL = errors.New("chapa response has no checkout url")

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// RequestError describes a failed gateway call. Status is zero when the
// request never produced a response.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewClient(baseURL, secretKey string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &RequestError{Op: "validate chapa api url", Err: fmt.Errorf("invalid chapa api url: %q", trimmed)}
	}

	return &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: httpclient.New(timeout),
	}, nil
}

type Customization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type CheckoutRequest struct {
	AmountMinor   int64
	Currency      string
	Email         string
	FirstName     string
	LastName      string
	TxRef         string
	CallbackURL   string
	ReturnURL     string
	Customization Customization
	UserID        int64
}

type initializePayload struct {
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Email         string         `json:"email"`
	FirstName     string         `json:"first_name"`
	LastName      string         `json:"last_name"`
	TxRef         string         `json:"tx_ref"`
	CallbackURL   string         `json:"callback_url,omitempty"`
	ReturnURL     string         `json:"return_url,omitempty"`
	Customization Customization  `json:"customization"`
	Meta          map[string]any `json:"meta"`
}

type initializeResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		CheckoutURL      string `json:"checkout_url"`
		AuthorizationURL string `json:"authorization_url"`
	} `json:"data"`
}

// InitializeCheckout registers a transaction and returns the hosted checkout
// URL the payer should open.
func (c *Client) InitializeCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	if strings.TrimSpace(req.TxRef) == "" {
		return "", fmt.Errorf("tx_ref is required")
	}
	if req.AmountMinor <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "ETB"
	}

	payload := initializePayload{
		Amount:        FormatMinor(req.AmountMinor),
		Currency:      currency,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		TxRef:         req.TxRef,
		CallbackURL:   req.CallbackURL,
		ReturnURL:     req.ReturnURL,
		Customization: req.Customization,
		Meta:          map[string]any{"tg_id": req.UserID},
	}

	var resp initializeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/transaction/initialize", payload, &resp); err != nil {
		return "", err
	}
	if resp.Data != nil {
		if u := strings.TrimSpace(resp.Data.CheckoutURL); u != "" {
			return u, nil
		}
		if u := strings.TrimSpace(resp.Data.AuthorizationURL); u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("initialize checkout %s: %w", req.TxRef, ErrNoCheckoutURL)
}

// Verification is the gateway's view of a transaction.
type Verification struct {
	Status      string
	TxRef       string
	Reference   string
	AmountMinor int64
	Currency    string
	UserID      int64
}

func (v Verification) Successful() bool {
	return strings.EqualFold(v.Status, "success")
}

type verifyResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    *struct {
		Status    string          `json:"status"`
		TxRef     string          `json:"tx_ref"`
		Reference string          `json:"reference"`
		Amount    json.RawMessage `json:"amount"`
		Currency  string          `json:"currency"`
		Meta      json.RawMessage `json:"meta"`
	} `json:"data"`
}

// Verify asks the gateway for the authoritative state of txRef.
func (c *Client) Verify(ctx context.Context, txRef string) (Verification, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return Verification{}, fmt.Errorf("tx_ref is required")
	}

	var resp verifyResponse
	if err := c.doJSON(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(txRef), nil, &resp); err != nil {
		return Verification{}, err
	}
	if resp.Data == nil {
		return Verification{}, &RequestError{Op: "verify transaction", Err: fmt.Errorf("response has no data: %s", resp.Message)}
	}

	amount, err := ParseAmountMinor(resp.Data.Amount)
	if err != nil {
		return Verification{}, &RequestError{Op: "verify transaction", Err: err}
	}

	return Verification{
		Status:      strings.ToLower(strings.TrimSpace(resp.Data.Status)),
		TxRef:       strings.TrimSpace(resp.Data.TxRef),
		Reference:   strings.TrimSpace(resp.Data.Reference),
		AmountMinor: amount,
		Currency:    strings.ToUpper(strings.TrimSpace(resp.Data.Currency)),
		UserID:      metaUserID(resp.Data.Meta),
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, requestBody, responseBody any) error {
	if c == nil || c.httpClient == nil {
		return &RequestError{Op: "do chapa request", Err: errors.New("chapa client is not initialized")}
	}

	var bodyReader io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return &RequestError{Op: "marshal request body", Err: err}
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return &RequestError{Op: "create http request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: "execute http request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &RequestError{Op: "read http response", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &RequestError{Op: "unexpected http status", StatusCode: resp.StatusCode, Err: errors.New(message)}
	}

	if responseBody == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, responseBody); err != nil {
		return &RequestError{Op: "decode http response", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}
