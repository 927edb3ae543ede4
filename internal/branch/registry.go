package branch

import (
	"fmt"
	"sort"

	"erp-session-core/internal/model"
)

// EmergencyOrigin is used only when the persisted selection cannot be read.
// It must stay distinct from every branch origin so the case is visible in logs.
const EmergencyOrigin = "https://gateway.erp-training.app"

const DefaultBranchID = "cairo"

var builtinBranches = []model.Branch{
	{
		ID:             "cairo",
		DisplayName:    "Cairo",
		DisplayNameAlt: "القاهرة",
		City:           "Cairo",
		IconRef:        "building-columns",
		ColorRef:       "#1E6FD9",
		OriginURL:      "https://cairo.erp-training.app",
	},
	{
		ID:             "zagazig",
		DisplayName:    "Zagazig",
		DisplayNameAlt: "الزقازيق",
		City:           "Zagazig",
		IconRef:        "school",
		ColorRef:       "#2BAE66",
		OriginURL:      "https://zagazig.erp-training.app",
	},
	{
		ID:             "mansoura",
		DisplayName:    "Mansoura",
		DisplayNameAlt: "المنصورة",
		City:           "Mansoura",
		IconRef:        "graduation-cap",
		ColorRef:       "#E07A1F",
		OriginURL:      "https://mansoura.erp-training.app",
	},
	{
		ID:             "alexandria",
		DisplayName:    "Alexandria",
		DisplayNameAlt: "الإسكندرية",
		City:           "Alexandria",
		IconRef:        "anchor",
		ColorRef:       "#7A3FD1",
		OriginURL:      "https://alex.erp-training.app",
	},
}

// Registry is the immutable branch catalog and the only authority on origins.
type Registry struct {
	byID      map[string]model.Branch
	ordered   []model.Branch
	defaultID string
}

func DefaultRegistry() *Registry {
	return NewRegistry(DefaultBranchID, builtinBranches...)
}

// NewRegistry panics when defaultID is not among branches or ids repeat;
// catalogs are compiled in, so either is a programming error.
func NewRegistry(defaultID string, branches ...model.Branch) *Registry {
	r := &Registry{
		byID:      make(map[string]model.Branch, len(branches)),
		ordered:   make([]model.Branch, 0, len(branches)),
		defaultID: defaultID,
	}
	for _, b := range branches {
		if _, dup := r.byID[b.ID]; dup {
			panic(fmt.Sprintf("branch: duplicate id %q", b.ID))
		}
		r.byID[b.ID] = b
		r.ordered = append(r.ordered, b)
	}
	if _, ok := r.byID[defaultID]; !ok {
		panic(fmt.Sprintf("branch: default id %q not in registry", defaultID))
	}
	sort.SliceStable(r.ordered, func(i, j int) bool { return r.ordered[i].DisplayName < r.ordered[j].DisplayName })
	return r
}

func (r *Registry) List() []model.Branch {
	out := make([]model.Branch, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) ByID(id string) (model.Branch, bool) {
	b, ok := r.byID[id]
	return b, ok
}

func (r *Registry) DefaultID() string { return r.defaultID }

func (r *Registry) Default() model.Branch { return r.byID[r.defaultID] }
