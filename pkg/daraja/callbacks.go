package daraja

import "encoding/json"

// STKCallback is the asynchronous outcome of an STK Push, delivered to the
// callback URL. ResultCode 0 means the customer paid; 1032 is a cancel.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackItem is one Name/Value pair from the callback metadata
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// Succeeded reports whether the customer completed the payment.
func (c *STKCallback) Succeeded() bool {
	return c.Body.StkCallback.ResultCode == 0
}

// Amount extracts the paid amount from the callback metadata.
func (c *STKCallback) Amount() (float64, bool) {
	for _, item := range c.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "Amount" {
			if v, ok := item.Value.(float64); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// ReceiptNumber extracts the M-Pesa receipt from the callback metadata.
func (c *STKCallback) ReceiptNumber() string {
	for _, item := range c.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if v, ok := item.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}

// B2CResult is the asynchronous outcome of a B2C payout, delivered to the
// result URL.
type B2CResult struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []B2CResultParameter `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// B2CResultParameter is one Key/Value pair from the result parameters
type B2CResultParameter struct {
	Key   string      `json:"Key"`
	Value interface{} `json:"Value"`
}

// Succeeded reports whether the payout went through.
func (r *B2CResult) Succeeded() bool {
	return r.Result.ResultCode == 0
}

// TransactionReceipt extracts the payout receipt from the result parameters,
// falling back to the top-level transaction id.
func (r *B2CResult) TransactionReceipt() string {
	for _, p := range r.Result.ResultParameters.ResultParameter {
		if p.Key == "TransactionReceipt" {
			if v, ok := p.Value.(string); ok {
				return v
			}
		}
	}
	return r.Result.TransactionID
}

// ParseSTKCallback decodes a raw STK callback body.
func ParseSTKCallback(body []byte) (*STKCallback, error) {
	var cb STKCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// ParseB2CResult decodes a raw B2C result body.
func ParseB2CResult(body []byte) (*B2CResult, error) {
	var res B2CResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
