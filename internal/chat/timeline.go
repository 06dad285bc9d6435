package chat

import (
	"slices"
	"sort"

	"marketchat/internal/models"
)

// Timeline is the ordered message collection of one room. Entries are
// sorted by CreatedAt; equal timestamps keep arrival order. Ids are unique.
type Timeline struct {
	items []*models.Message
	byID  map[string]*models.Message
}

func NewTimeline() *Timeline {
	return &Timeline{byID: make(map[string]*models.Message)}
}

func (t *Timeline) Len() int { return len(t.items) }

func (t *Timeline) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Timeline) Get(id string) (*models.Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Insert places m after every entry with an equal or earlier timestamp.
// It reports false, and changes nothing, when the id is already held.
func (t *Timeline) Insert(m models.Message) bool {
	if m.ID == "" || t.Has(m.ID) {
		return false
	}
	if m.SeenBy == nil {
		m.SeenBy = []string{}
	}
	entry := &m
	idx := sort.Search(len(t.items), func(i int) bool {
		return t.items[i].CreatedAt.After(m.CreatedAt)
	})
	t.items = slices.Insert(t.items, idx, entry)
	t.byID[m.ID] = entry
	return true
}

// Merge inserts a batch, skipping ids already held, and returns the
// entries that were actually added in timeline order.
func (t *Timeline) Merge(batch []models.Message) []*models.Message {
	sorted := slices.Clone(batch)
	slices.SortStableFunc(sorted, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	added := make([]*models.Message, 0, len(sorted))
	for _, m := range sorted {
		if t.Insert(m) {
			added = append(added, t.byID[m.ID])
		}
	}
	return added
}

// Remove drops an entry. Only never-persisted optimistic entries are ever
// removed; server messages are tombstoned instead.
func (t *Timeline) Remove(id string) bool {
	if !t.Has(id) {
		return false
	}
	delete(t.byID, id)
	t.items = slices.DeleteFunc(t.items, func(m *models.Message) bool { return m.ID == id })
	return true
}

// Replace swaps the entry oldID for m, re-sorting by m's timestamp.
func (t *Timeline) Replace(oldID string, m models.Message) bool {
	if !t.Remove(oldID) {
		return false
	}
	t.Insert(m)
	return true
}

// Each walks the entries in order until fn returns false.
func (t *Timeline) Each(fn func(m *models.Message) bool) {
	for _, m := range t.items {
		if !fn(m) {
			return
		}
	}
}

// Snapshot copies the entries so callers can read them off the loop.
func (t *Timeline) Snapshot() []models.Message {
	out := make([]models.Message, len(t.items))
	for i, m := range t.items {
		out[i] = m.Clone()
	}
	return out
}
