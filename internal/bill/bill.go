package bill

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/zombor/bill-splitter/internal/settlement"
)

// Step is the stage of the splitting workflow a bill is in
type Step string

const (
	StepParticipants Step = "participants"
	StepAssignment   Step = "assignment"
	StepSummary      Step = "summary"
)

var (
	ErrNotFound            = errors.New("bill not found")
	ErrEmptyName           = errors.New("participant name is required")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrNoParticipants      = errors.New("at least one participant is required")
	ErrInvalidStep         = errors.New("invalid step")
	ErrNoItems             = errors.New("no items detected in the receipt")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrScanFailed          = errors.New("scan failed")
)

// Bill is a scanned bill together with the people splitting it
type Bill struct {
	ID           string                   `json:"id"`
	Filename     string                   `json:"filename"`
	ContentType  string                   `json:"content_type"`
	Items        []settlement.Item        `json:"items"`
	SharedFees   []settlement.SharedFee   `json:"shared_fees"`
	Participants []settlement.Participant `json:"participants"`
	Step         Step                     `json:"step"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// ParseStep validates a step name
func ParseStep(s string) (Step, error) {
	switch step := Step(strings.ToLower(strings.TrimSpace(s))); step {
	case StepParticipants, StepAssignment, StepSummary:
		return step, nil
	default:
		return "", ErrInvalidStep
	}
}

// AddParticipant appends a participant with the next free id
func (b *Bill) AddParticipant(name string) (settlement.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return settlement.Participant{}, ErrEmptyName
	}

	id := 1
	for _, p := range b.Participants {
		if p.ID >= id {
			id = p.ID + 1
		}
	}

	p := settlement.Participant{ID: id, Name: name}
	b.Participants = append(b.Participants, p)
	return p, nil
}

// RemoveParticipant drops the participant and every assignment that references it
func (b *Bill) RemoveParticipant(id int) error {
	if !b.hasParticipant(id) {
		return ErrParticipantNotFound
	}

	b.Participants = slices.DeleteFunc(b.Participants, func(p settlement.Participant) bool {
		return p.ID == id
	})
	for i := range b.Items {
		b.Items[i].AssignedTo.Remove(id)
	}

	if len(b.Participants) == 0 {
		b.Step = StepParticipants
	}
	return nil
}

// ToggleAssignment flips whether the participant shares the item and reports
// the resulting membership
func (b *Bill) ToggleAssignment(itemID, participantID int) (bool, error) {
	idx := slices.IndexFunc(b.Items, func(item settlement.Item) bool {
		return item.ID == itemID
	})
	if idx < 0 {
		return false, ErrItemNotFound
	}
	if !b.hasParticipant(participantID) {
		return false, ErrParticipantNotFound
	}

	item := &b.Items[idx]
	if item.AssignedTo == nil {
		item.AssignedTo = settlement.NewParticipantSet()
	}
	return item.AssignedTo.Toggle(participantID), nil
}

// MoveTo changes the workflow step. Going forward needs at least one participant.
func (b *Bill) MoveTo(step Step) error {
	switch step {
	case StepParticipants:
	case StepAssignment, StepSummary:
		if len(b.Participants) == 0 {
			return ErrNoParticipants
		}
	default:
		return ErrInvalidStep
	}
	b.Step = step
	return nil
}

// Settle computes what each participant owes for the bill as it stands
func (b *Bill) Settle() settlement.Result {
	return settlement.Compute(b.Items, b.SharedFees, b.Participants)
}

func (b *Bill) hasParticipant(id int) bool {
	return slices.ContainsFunc(b.Participants, func(p settlement.Participant) bool {
		return p.ID == id
	})
}
