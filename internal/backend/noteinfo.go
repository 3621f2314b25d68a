package backend

import "sort"

// NoteInfo pairs a MIDI note number with its score onset time, in
// milliseconds from the start of the score.
type NoteInfo struct {
	MidiNoteNum int
	NoteStartMs float64
}

// NoteIndex is a sorted grouping of NoteInfo by onset time, supporting
// predecessor ("most recent group at or before t") lookups.
type NoteIndex struct {
	keys   []float64
	groups map[float64][]NoteInfo
}

// NewNoteIndex groups notes sharing an onset time and sorts the distinct
// onset times ascending. notes need not be pre-sorted.
func NewNoteIndex(notes []NoteInfo) *NoteIndex {
	groups := make(map[float64][]NoteInfo)
	for _, n := range notes {
		groups[n.NoteStartMs] = append(groups[n.NoteStartMs], n)
	}
	keys := make([]float64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	return &NoteIndex{keys: keys, groups: groups}
}

// Len returns the number of distinct onset groups in the index.
func (idx *NoteIndex) Len() int { return len(idx.keys) }

// Predecessor returns the group of notes at the greatest onset time <= t,
// and ok=true if one exists.
func (idx *NoteIndex) Predecessor(t float64) (onset float64, notes []NoteInfo, ok bool) {
	// sort.Search finds the first index whose key is > t; the predecessor
	// is the one just before it.
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] > t })
	if i == 0 {
		return 0, nil, false
	}
	k := idx.keys[i-1]
	return k, idx.groups[k], true
}
