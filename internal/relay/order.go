package relay

// ValidateOrder checks an order payload's shape and numeric ranges.
// Rules are applied in order and the first failure wins; the returned
// reason is empty when the order is valid. The payload is never mutated.
func ValidateOrder(order map[string]any) (ok bool, reason string) {
	action, _ := order["action"].(string)
	if action != "buy" && action != "sell" {
		return false, "action must be buy or sell"
	}

	symbol, _ := order["symbol"].(string)
	if symbol == "" {
		return false, "symbol must be a string"
	}

	if !isPositiveNumber(order["amount"]) {
		return false, "amount must be a number greater than 0"
	}

	orderType, _ := order["orderType"].(string)
	if orderType != "limit" && orderType != "market" {
		return false, "orderType must be limit or market"
	}

	price, hasPrice := order["price"]
	if orderType == "limit" && !isPositiveNumber(price) {
		return false, "limit order requires a valid price"
	}
	if hasPrice && !isPositiveNumber(price) {
		return false, "price must be a number greater than 0"
	}

	for _, field := range []string{"leverage", "stopLoss", "takeProfit"} {
		if v, present := order[field]; present && !isPositiveNumber(v) {
			return false, field + " must be a number greater than 0"
		}
	}

	return true, ""
}

// isPositiveNumber reports whether v is a JSON number greater than zero.
// encoding/json decodes all numbers to float64.
func isPositiveNumber(v any) bool {
	n, ok := v.(float64)
	return ok && n > 0
}
