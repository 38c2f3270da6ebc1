package market

import (
	"encoding/json"
	"strconv"
	"strings"
)

// PlaceOrderResponse is what comes back from a gateway. Venues disagree about
// where the order id lives, so the raw payload is kept alongside the decoded
// fields and ExtractOrderID probes the known shapes in priority order instead
// of ad hoc field sniffing at call sites.
type PlaceOrderResponse struct {
	Success bool            `json:"success"`
	OrderID string          `json:"order_id,omitempty"`
	Message string          `json:"message,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// orderIDKeys are the top-level (and nested) field names venues use for the
// broker order id, in priority order.
var orderIDKeys = []string{"order_id", "orderId", "orderID", "id", "odno", "ODNO"}

// containerKeys are envelope fields some venues wrap their payload in.
var containerKeys = []string{"data", "result", "output", "order"}

// ExtractOrderID returns the broker order id from the response, trying the
// decoded field first and then each known raw shape. ok is false when the
// gateway reported success but no id could be located — callers treat that as
// a fatal inconsistency, not a soft miss.
func (r *PlaceOrderResponse) ExtractOrderID() (string, bool) {
	if r == nil {
		return "", false
	}
	if id := strings.TrimSpace(r.OrderID); id != "" {
		return id, true
	}
	if len(r.Raw) == 0 {
		return "", false
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &payload); err != nil {
		return "", false
	}
	if id, ok := idFromObject(payload); ok {
		return id, true
	}
	for _, key := range containerKeys {
		nestedRaw, ok := payload[key]
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(nestedRaw, &nested); err != nil {
			continue
		}
		if id, ok := idFromObject(nested); ok {
			return id, true
		}
	}
	return "", false
}

func idFromObject(obj map[string]json.RawMessage) (string, bool) {
	for _, key := range orderIDKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if id, ok := decodeID(raw); ok {
			return id, true
		}
	}
	return "", false
}

// decodeID accepts both string and numeric ids.
func decodeID(raw json.RawMessage) (string, bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		return asString, asString != ""
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		s := asNumber.String()
		if _, err := strconv.ParseFloat(s, 64); err == nil && s != "" && s != "0" {
			return s, true
		}
	}
	return "", false
}
