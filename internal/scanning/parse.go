package scanning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// rawLine mirrors a model output line before the price is validated.
// Models occasionally quote prices or prefix a currency symbol.
type rawLine struct {
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
}

type rawBill struct {
	Items      []rawLine `json:"items"`
	SharedFees []rawLine `json:"sharedFees"`
}

// stripCodeFences removes markdown code fences wrapped around a model response
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseBillJSON parses the JSON response from a model into BillData
func parseBillJSON(text string) (*BillData, error) {
	text = stripCodeFences(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var raw rawBill
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	items, err := normalizeLines(raw.Items)
	if err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}
	fees, err := normalizeLines(raw.SharedFees)
	if err != nil {
		return nil, fmt.Errorf("shared fees: %w", err)
	}

	return &BillData{Items: items, SharedFees: fees}, nil
}

// normalizeLines trims names, parses prices to cents and drops unnamed lines
func normalizeLines(lines []rawLine) ([]LineItem, error) {
	out := make([]LineItem, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line.Name)
		if name == "" {
			slog.Warn("Dropping unnamed line from scan", "price", string(line.Price))
			continue
		}

		price, err := parsePrice(line.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing price of %q: %w", name, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%q: %w", name, ErrNegativePrice)
		}

		out = append(out, LineItem{Name: name, Price: price.Round(2)})
	}
	return out, nil
}

// parsePrice accepts a JSON number, a numeric string, or null (zero)
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}

	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(unquoted)
		s = strings.TrimLeft(s, "$€£¥ ")
		s = strings.ReplaceAll(s, ",", "")
	}

	return decimal.NewFromString(s)
}
