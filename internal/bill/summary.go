package bill

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/bill-splitter/internal/settlement"
)

// IncompleteAssignmentWarning accompanies any settlement where some item
// value is not covered by assignments
const IncompleteAssignmentWarning = "Not all items are fully assigned"

func money(amount float64) string {
	return "$" + decimal.NewFromFloat(amount).StringFixed(2)
}

// FormatSummary renders a settlement as plain text suitable for sharing
func FormatSummary(result settlement.Result) string {
	var sb strings.Builder

	sb.WriteString("Bill Summary\n")
	fmt.Fprintf(&sb, "Items total: %s\n", money(result.ItemsTotal))
	if result.SharedFeesTotal > 0 {
		fmt.Fprintf(&sb, "Shared fees: %s (%s per person)\n", money(result.SharedFeesTotal), money(result.PerPersonSharedFee))
	}
	fmt.Fprintf(&sb, "Total bill: %s\n", money(result.TotalBill))
	fmt.Fprintf(&sb, "Assigned items: %s\n", money(result.AssignedItemsTotal))
	if !result.IsFullyAssigned {
		fmt.Fprintf(&sb, "Warning: %s\n", IncompleteAssignmentWarning)
	}

	for _, line := range result.Lines {
		fmt.Fprintf(&sb, "\n%s owes %s\n", line.Participant.Name, money(line.TotalOwed))
		for _, share := range line.ItemShares {
			shareText, priceText := money(share.ShareAmount), money(share.Price)
			if shareText == priceText {
				fmt.Fprintf(&sb, "  - %s: %s\n", share.Name, shareText)
			} else {
				fmt.Fprintf(&sb, "  - %s: %s (of %s)\n", share.Name, shareText, priceText)
			}
		}
		if line.SharedFeesAmount > 0 {
			fmt.Fprintf(&sb, "  - Shared fees: %s\n", money(line.SharedFeesAmount))
		}
	}

	return sb.String()
}
