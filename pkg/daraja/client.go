// Package daraja is a client for the Safaricom M-Pesa Daraja API: STK Push
// for collections, STK query, and B2C for reversals.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds Daraja client configuration
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	InitiatorName  string
	SecurityCred   string
	CallbackURL    string
	ResultURL      string
	Timeout        time.Duration
}

// Client talks to the Daraja API. Safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Daraja client with an explicit HTTP timeout
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// token returns a cached OAuth token, refreshing it when within a minute of
// expiry. Daraja tokens live ~3600s; refreshing early avoids racing the
// deadline mid-request.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	expiresIn := 3600
	if tr.ExpiresIn != "" {
		fmt.Sscanf(tr.ExpiresIn, "%d", &expiresIn)
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)

	logrus.WithField("expires_in", expiresIn).Debug("Refreshed Daraja access token")
	return c.accessToken, nil
}

// password builds the Lipa Na M-Pesa password for a timestamp
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

// STKPushRequest is the request for an STK Push collection
type STKPushRequest struct {
	Phone            string  // 254XXXXXXXXX
	Amount           float64 // whole KES; Daraja rejects decimals
	AccountReference string  // shown on the customer's statement
	Description      string
}

// STKPushResponse is the provider acknowledgement of an STK Push
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiateSTKPush sends an STK Push prompt to the customer's phone
func (c *Client) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	if err := wholeKES(req.Amount); err != nil {
		return nil, err
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(req.Amount),
		"PartyA":            req.Phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       req.Phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.Description,
	}

	var out STKPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return &out, fmt.Errorf("stk push rejected: %s (%s)", out.ResponseDescription, out.ResponseCode)
	}
	return &out, nil
}

// STKQueryResponse is the result of a checkout status query
type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// QuerySTKStatus asks Daraja for the outcome of a previous STK Push
func (c *Client) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out STKQueryResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// B2CRequest is the request for a B2C payout (refund reversal)
type B2CRequest struct {
	Phone   string
	Amount  float64
	Remarks string
}

// B2CResponse is the provider acknowledgement of a B2C request
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// InitiateB2C pushes money back to a customer. The outcome arrives later on
// the result callback URL.
func (c *Client) InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	if err := wholeKES(req.Amount); err != nil {
		return nil, err
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCred,
		"CommandID":          "BusinessPayment",
		"Amount":             int(req.Amount),
		"PartyA":             c.cfg.ShortCode,
		"PartyB":             req.Phone,
		"Remarks":            req.Remarks,
		"QueueTimeOutURL":    c.cfg.ResultURL,
		"ResultURL":          c.cfg.ResultURL,
		"Occasion":           "Refund",
	}

	var out B2CResponse
	if err := c.post(ctx, "/mpesa/b2c/v1/paymentrequest", token, payload, &out); err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return &out, fmt.Errorf("b2c request rejected: %s (%s)", out.ResponseDescription, out.ResponseCode)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("daraja request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read daraja response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daraja returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse daraja response: %w", err)
	}
	return nil
}

// wholeKES rejects fractional amounts before they reach the wire. Daraja
// only accepts integer KES; truncating here would silently collect a
// different amount than the one recorded.
func wholeKES(amount float64) error {
	if amount <= 0 || amount != math.Trunc(amount) {
		return fmt.Errorf("amount must be a positive whole number of KES, got %.2f", amount)
	}
	return nil
}

// NormalizePhone converts Kenyan phone formats (07XX..., +2547XX..., 7XX...)
// to the 2547XXXXXXXX form Daraja requires.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	p = strings.ReplaceAll(p, "-", "")
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "254") && len(p) == 12:
		// already normalized
	case strings.HasPrefix(p, "0") && len(p) == 10:
		p = "254" + p[1:]
	case (strings.HasPrefix(p, "7") || strings.HasPrefix(p, "1")) && len(p) == 9:
		p = "254" + p
	default:
		return "", fmt.Errorf("unrecognized phone format: %s", phone)
	}

	for _, ch := range p {
		if ch < '0' || ch > '9' {
			return "", fmt.Errorf("phone contains non-digits: %s", phone)
		}
	}
	return p, nil
}
