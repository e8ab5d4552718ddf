package research

import (
	"encoding/json"
	"slices"
)

// IDSet is an insertion-ordered set of ids. It marshals as a JSON array.
// The zero value is an empty set.
type IDSet struct {
	ids []string
}

// NewIDSet builds a set from ids, dropping duplicates.
func NewIDSet(ids ...string) IDSet {
	var s IDSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add appends id unless already present. It reports whether the set changed.
func (s *IDSet) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Remove deletes id. It reports whether the set changed.
func (s *IDSet) Remove(id string) bool {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

// Contains reports whether id is in the set.
func (s IDSet) Contains(id string) bool {
	return slices.Contains(s.ids, id)
}

// Len returns the number of ids.
func (s IDSet) Len() int { return len(s.ids) }

// Items returns a copy of the ids in insertion order.
func (s IDSet) Items() []string { return slices.Clone(s.ids) }

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet { return IDSet{ids: slices.Clone(s.ids)} }

// MarshalJSON encodes the set as an array, never null.
func (s IDSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes an array, dropping duplicates.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
