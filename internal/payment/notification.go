package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedNotification = errors.New("malformed notification")
	ErrBadSignature          = errors.New("bad notification signature")
)

// Notification transaction callback. The only accepted shape is
//
//	{"type": "TRANSACTION", "obj": {"id": "<order id>", "success": true}}
//
// where obj.id is our order id (sent to the provider as merchant_order_id).
type Notification struct {
	Type    string
	OrderID string
	Success bool
}

type rawNotification struct {
	Type string `json:"type"`
	Obj  *struct {
		ID      json.RawMessage `json:"id"`
		Success *bool           `json:"success"`
	} `json:"obj"`
}

// ParseNotification decodes a callback body. The id may arrive as a string or
// a number; success must be present.
func ParseNotification(body []byte) (*Notification, error) {
	var raw rawNotification
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if raw.Obj == nil {
		return nil, fmt.Errorf("%w: missing obj", ErrMalformedNotification)
	}
	if raw.Obj.Success == nil {
		return nil, fmt.Errorf("%w: missing obj.success", ErrMalformedNotification)
	}
	id, err := decodeID(raw.Obj.ID)
	if err != nil {
		return nil, err
	}
	return &Notification{Type: raw.Type, OrderID: id, Success: *raw.Obj.Success}, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing obj.id", ErrMalformedNotification)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: empty obj.id", ErrMalformedNotification)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: obj.id must be a string or number", ErrMalformedNotification)
}

// Sign returns the hex HMAC-SHA512 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature in constant time.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
