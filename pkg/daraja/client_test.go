package daraja

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer serves the OAuth endpoint plus a caller-supplied API handler,
// counting token requests so caching can be asserted
func newTestServer(t *testing.T, apiHandler http.HandlerFunc) (*httptest.Server, *int) {
	t.Helper()
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	})
	if apiHandler != nil {
		mux.HandleFunc("/", apiHandler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &tokenCalls
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		InitiatorName:  "testapi",
		SecurityCred:   "cred",
		CallbackURL:    "https://example.com/webhooks/mpesa/stk",
		ResultURL:      "https://example.com/webhooks/mpesa/b2c",
		Timeout:        2 * time.Second,
	})
}

func TestInitiateSTKPush(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var captured map[string]interface{}
		server, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			json.NewEncoder(w).Encode(STKPushResponse{
				MerchantRequestID: "mr-001",
				CheckoutRequestID: "ws_CO_001",
				ResponseCode:      "0",
				CustomerMessage:   "Success. Request accepted for processing",
			})
		})
		client := newTestClient(server.URL)

		resp, err := client.InitiateSTKPush(context.Background(), STKPushRequest{
			Phone:            "254712345678",
			Amount:           1500,
			AccountReference: "BKG-TEST0001",
			Description:      "Matatu seat booking",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_001", resp.CheckoutRequestID)
		assert.Equal(t, 1, *tokenCalls)

		assert.Equal(t, "CustomerPayBillOnline", captured["TransactionType"])
		assert.Equal(t, "254712345678", captured["PartyA"])
		assert.Equal(t, "254712345678", captured["PhoneNumber"])
		assert.Equal(t, "174379", captured["BusinessShortCode"])
		assert.Equal(t, "BKG-TEST0001", captured["AccountReference"])
		// Daraja rejects fractional amounts
		assert.Equal(t, float64(1500), captured["Amount"])
	})

	t.Run("Rejected Push Returns Error", func(t *testing.T) {
		server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(STKPushResponse{
				ResponseCode:        "1",
				ResponseDescription: "Invalid Access Token",
			})
		})
		client := newTestClient(server.URL)

		_, err := client.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "254712345678", Amount: 100})
		assert.Error(t, err)
	})

	t.Run("Token Is Cached Across Calls", func(t *testing.T) {
		server, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(STKPushResponse{ResponseCode: "0"})
		})
		client := newTestClient(server.URL)

		for i := 0; i < 3; i++ {
			_, err := client.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "254712345678", Amount: 100})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, *tokenCalls)
	})

	t.Run("Fractional Amount Rejected Before Any Request", func(t *testing.T) {
		server, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for a fractional amount")
		})
		client := newTestClient(server.URL)

		_, err := client.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "254712345678", Amount: 1500.50})
		assert.Error(t, err)
		assert.Zero(t, *tokenCalls)
	})

	t.Run("Provider Error Status Surfaces", func(t *testing.T) {
		server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		})
		client := newTestClient(server.URL)

		_, err := client.InitiateSTKPush(context.Background(), STKPushRequest{Phone: "254712345678", Amount: 100})
		assert.Error(t, err)
	})
}

func TestInitiateB2C(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var captured map[string]interface{}
		server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/mpesa/b2c/v1/paymentrequest", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			json.NewEncoder(w).Encode(B2CResponse{
				ConversationID:           "AG_001",
				OriginatorConversationID: "oc-001",
				ResponseCode:             "0",
			})
		})
		client := newTestClient(server.URL)

		resp, err := client.InitiateB2C(context.Background(), B2CRequest{
			Phone:   "254712345678",
			Amount:  500,
			Remarks: "Refund RFD-TEST0001",
		})
		require.NoError(t, err)
		assert.Equal(t, "AG_001", resp.ConversationID)
		assert.Equal(t, "BusinessPayment", captured["CommandID"])
		assert.Equal(t, "254712345678", captured["PartyB"])
		assert.Equal(t, "174379", captured["PartyA"])
	})

	t.Run("Fractional Amount Rejected Before Any Request", func(t *testing.T) {
		server, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected for a fractional amount")
		})
		client := newTestClient(server.URL)

		_, err := client.InitiateB2C(context.Background(), B2CRequest{Phone: "254712345678", Amount: 499.99})
		assert.Error(t, err)
		assert.Zero(t, *tokenCalls)
	})
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"Local Zero Prefix", "0712345678", "254712345678", false},
		{"International Plus", "+254712345678", "254712345678", false},
		{"Already Normalized", "254712345678", "254712345678", false},
		{"Bare Nine Digits", "712345678", "254712345678", false},
		{"Safaricom One Series", "110123456", "254110123456", false},
		{"Spaces And Dashes", "0712 345-678", "254712345678", false},
		{"Too Short", "12345", "", true},
		{"Letters", "07123a5678", "", true},
		{"Empty", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhone(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSTKCallbackMetadata(t *testing.T) {
	body := []byte(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "mr-001",
			"CheckoutRequestID": "ws_CO_001",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {"Item": [
				{"Name": "Amount", "Value": 1500.0},
				{"Name": "MpesaReceiptNumber", "Value": "SAF12345"},
				{"Name": "PhoneNumber", "Value": 254712345678}
			]}
		}}
	}`)

	cb, err := ParseSTKCallback(body)
	require.NoError(t, err)
	assert.True(t, cb.Succeeded())

	amount, ok := cb.Amount()
	require.True(t, ok)
	assert.Equal(t, 1500.0, amount)
	assert.Equal(t, "SAF12345", cb.ReceiptNumber())
}

func TestB2CResultReceiptFallback(t *testing.T) {
	body := []byte(`{
		"Result": {
			"ResultCode": 0,
			"ConversationID": "AG_001",
			"TransactionID": "SAF77777"
		}
	}`)

	result, err := ParseB2CResult(body)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "SAF77777", result.TransactionReceipt())
}
