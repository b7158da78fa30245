// Package settlement works out who owes what on a shared bill.
//
// Items are split equally among the participants assigned to them. Shared
// fees (delivery, service charges) are split equally among every
// participant, whether or not they have items assigned.
package settlement

import "math"

// Epsilon absorbs floating-point accumulation when comparing totals.
const Epsilon = 0.01

// Item is a priced line on the bill
type Item struct {
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	Price      float64        `json:"price"`
	AssignedTo ParticipantSet `json:"assigned_to"`
}

// SharedFee is a bill-level charge divided across all participants
type SharedFee struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Participant is a person splitting the bill
type Participant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ItemShare is one participant's portion of an item
type ItemShare struct {
	ItemID      int     `json:"item_id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	ShareAmount float64 `json:"share_amount"`
}

// Line is the amount owed by a single participant
type Line struct {
	Participant      Participant `json:"participant"`
	ItemsAmount      float64     `json:"items_amount"`
	SharedFeesAmount float64     `json:"shared_fees_amount"`
	TotalOwed        float64     `json:"total_owed"`
	ItemShares       []ItemShare `json:"item_shares"`
}

// Result is the settlement of a whole bill
type Result struct {
	ItemsTotal         float64 `json:"items_total"`
	SharedFeesTotal    float64 `json:"shared_fees_total"`
	TotalBill          float64 `json:"total_bill"`
	PerPersonSharedFee float64 `json:"per_person_shared_fee"`
	AssignedItemsTotal float64 `json:"assigned_items_total"`
	IsFullyAssigned    bool    `json:"is_fully_assigned"`
	Lines              []Line  `json:"lines"`
}

// Compute settles the bill. It never mutates its inputs and returns the same
// result for the same arguments. Lines follow the order of participants and
// item shares follow the order of items.
//
// An item nobody is assigned to contributes to no line; it only shows up as
// IsFullyAssigned being false.
func Compute(items []Item, sharedFees []SharedFee, participants []Participant) Result {
	var itemsTotal float64
	for _, item := range items {
		itemsTotal += item.Price
	}

	var sharedFeesTotal float64
	for _, fee := range sharedFees {
		sharedFeesTotal += fee.Price
	}

	var perPerson float64
	if len(participants) > 0 {
		perPerson = sharedFeesTotal / float64(len(participants))
	}

	lines := make([]Line, 0, len(participants))
	var assignedTotal float64
	for _, p := range participants {
		line := Line{
			Participant:      p,
			SharedFeesAmount: perPerson,
			ItemShares:       []ItemShare{},
		}
		for _, item := range items {
			if !item.AssignedTo.Has(p.ID) {
				continue
			}
			share := item.Price / float64(item.AssignedTo.Len())
			line.ItemsAmount += share
			line.ItemShares = append(line.ItemShares, ItemShare{
				ItemID:      item.ID,
				Name:        item.Name,
				Price:       item.Price,
				ShareAmount: share,
			})
		}
		line.TotalOwed = line.ItemsAmount + line.SharedFeesAmount
		assignedTotal += line.ItemsAmount
		lines = append(lines, line)
	}

	return Result{
		ItemsTotal:         itemsTotal,
		SharedFeesTotal:    sharedFeesTotal,
		TotalBill:          itemsTotal + sharedFeesTotal,
		PerPersonSharedFee: perPerson,
		AssignedItemsTotal: assignedTotal,
		IsFullyAssigned:    math.Abs(itemsTotal-assignedTotal) < Epsilon,
		Lines:              lines,
	}
}
