// Package refindex builds the lookup tables used to translate category
// foreign keys between stores: normalized name → id on the target side and
// id → name on the source side.
package refindex

import (
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
)

// Collision records two category records in one scope whose names normalize
// to the same key. KeptID is the first one seen; it wins.
type Collision struct {
	Kind       model.CategoryKind `json:"kind"`
	Key        string             `json:"key"`
	KeptID     string             `json:"kept_id"`
	KeptName   string             `json:"kept_name"`
	DroppedID  string             `json:"dropped_id"`
	DroppedRaw string             `json:"dropped_name"`
}

// Index maps normalized category names to record ids for one store and
// organization. It is read-only once built.
type Index struct {
	kind  model.CategoryKind
	byKey map[string]string
}

// Build indexes records by normalized name. The first record with a given key
// wins; later ones are returned as collisions. Records with a blank name are
// skipped.
func Build(kind model.CategoryKind, records []model.CategoryRecord) (*Index, []Collision) {
	idx := &Index{kind: kind, byKey: make(map[string]string, len(records))}
	kept := make(map[string]model.CategoryRecord, len(records))

	var collisions []Collision
	for _, r := range records {
		key := normalize.Name(r.Name)
		if key == "" {
			continue
		}
		if first, dup := kept[key]; dup {
			collisions = append(collisions, Collision{
				Kind:       kind,
				Key:        key,
				KeptID:     first.ID,
				KeptName:   first.Name,
				DroppedID:  r.ID,
				DroppedRaw: r.Name,
			})
			continue
		}
		kept[key] = r
		idx.byKey[key] = r.ID
	}
	return idx, collisions
}

// Kind returns the category kind this index covers.
func (i *Index) Kind() model.CategoryKind {
	return i.kind
}

// Len returns the number of distinct names indexed.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byKey)
}

// Resolve looks up the id for a display name.
func (i *Index) Resolve(name string) model.Lookup[string] {
	if i == nil {
		return model.NotFound[string]()
	}
	id, ok := i.byKey[normalize.Name(name)]
	if !ok {
		return model.NotFound[string]()
	}
	return model.Found(id)
}

// Names maps category ids to display names.
type Names struct {
	byID map[string]string
}

// BuildNames maps every record id to its raw display name.
func BuildNames(records []model.CategoryRecord) *Names {
	n := &Names{byID: make(map[string]string, len(records))}
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		n.byID[r.ID] = r.Name
	}
	return n
}

// Lookup returns the display name for id.
func (n *Names) Lookup(id string) model.Lookup[string] {
	if n == nil || id == "" {
		return model.NotFound[string]()
	}
	name, ok := n.byID[id]
	if !ok {
		return model.NotFound[string]()
	}
	return model.Found(name)
}
