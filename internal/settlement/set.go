package settlement

import (
	"encoding/json"
	"sort"
)

// ParticipantSet is a set of participant IDs. A nil set reads as empty.
type ParticipantSet map[int]struct{}

// NewParticipantSet creates a set containing the given IDs
func NewParticipantSet(ids ...int) ParticipantSet {
	s := make(ParticipantSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set
func (s ParticipantSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of participants in the set
func (s ParticipantSet) Len() int {
	return len(s)
}

// Add inserts id into the set
func (s ParticipantSet) Add(id int) {
	s[id] = struct{}{}
}

// Remove deletes id from the set
func (s ParticipantSet) Remove(id int) {
	delete(s, id)
}

// Toggle adds id if absent and removes it if present.
// It returns whether id is in the set afterwards.
func (s ParticipantSet) Toggle(id int) bool {
	if s.Has(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return true
}

// IDs returns the members in ascending order
func (s ParticipantSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MarshalJSON encodes the set as a sorted array
func (s ParticipantSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON decodes an array of IDs, ignoring duplicates
func (s *ParticipantSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewParticipantSet(ids...)
	return nil
}
