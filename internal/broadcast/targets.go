package broadcast

import (
	"sort"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

// ResolveTargets returns the union of contacts in any of the campaign's
// target groups and the explicitly listed contacts. Each contact appears
// once, blocked contacts are dropped, and the result is ordered by id.
func ResolveTargets(c *model.Campaign, contacts []model.Contact) []model.Contact {
	groups := make(map[int64]bool, len(c.TargetGroupIDs))
	for _, id := range c.TargetGroupIDs {
		groups[id] = true
	}
	explicit := make(map[int64]bool, len(c.TargetContactIDs))
	for _, id := range c.TargetContactIDs {
		explicit[id] = true
	}

	seen := map[int64]bool{}
	var out []model.Contact
	for _, ct := range contacts {
		if ct.IsBlocked || seen[ct.ID] {
			continue
		}
		match := explicit[ct.ID]
		for _, g := range ct.GroupIDs {
			if match {
				break
			}
			match = groups[g]
		}
		if match {
			seen[ct.ID] = true
			out = append(out, ct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
