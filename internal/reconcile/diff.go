package reconcile

import (
	"sort"

	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
)

// Deltas maps an inventory description to a signed quantity change. A positive
// delta returns stock to inventory, a negative one consumes it.
type Deltas map[string]int

// Diff computes the inventory changes that turn an order's original lines into
// its updated lines. Lines are keyed by description; for duplicates the first
// occurrence wins. Only non-zero deltas are returned.
func Diff(original, updated []lineitem.LineItem) Deltas {
	before := firstByDescription(original)
	after := firstByDescription(updated)

	out := Deltas{}
	for desc, o := range before {
		if u, ok := after[desc]; ok {
			if d := -(u.Quantity - o.Quantity); d != 0 {
				out[desc] = d
			}
			continue
		}
		out[desc] = o.Quantity
	}
	for desc, u := range after {
		if _, ok := before[desc]; !ok {
			out[desc] = -u.Quantity
		}
	}
	return out
}

// Minus returns d with the already applied deltas taken off, dropping keys
// that end up at zero.
func (d Deltas) Minus(applied Deltas) Deltas {
	out := Deltas{}
	for k, v := range d {
		if rest := v - applied[k]; rest != 0 {
			out[k] = rest
		}
	}
	for k, v := range applied {
		if _, ok := d[k]; !ok && v != 0 {
			out[k] = -v
		}
	}
	return out
}

// Add accumulates other into d.
func (d Deltas) Add(other Deltas) {
	for k, v := range other {
		d[k] += v
		if d[k] == 0 {
			delete(d, k)
		}
	}
}

// Keys returns the descriptions in sorted order.
func (d Deltas) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstByDescription(items []lineitem.LineItem) map[string]lineitem.LineItem {
	m := make(map[string]lineitem.LineItem, len(items))
	for _, it := range items {
		if _, seen := m[it.Description]; !seen {
			m[it.Description] = it
		}
	}
	return m
}
