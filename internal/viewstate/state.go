// Package viewstate persists the filter state of bill listing views and
// applies it to orders.
package viewstate

import (
	"strings"
	"time"

	"github.com/imrishuroy/go-rental-billing/internal/lineitem"
	"github.com/imrishuroy/go-rental-billing/internal/orders"
)

// DefaultView is used when a request names no view.
const DefaultView = "bills"

// State is the filter set of one listing view. Dates use orders.DateLayout and
// bound the return date inclusively.
type State struct {
	Query       string    `json:"query,omitempty"`
	Description string    `json:"item,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Status      string    `json:"status,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Merge returns s with every non-empty field of update applied.
func (s State) Merge(update State) State {
	if update.Query != "" {
		s.Query = update.Query
	}
	if update.Description != "" {
		s.Description = update.Description
	}
	if update.From != "" {
		s.From = update.From
	}
	if update.To != "" {
		s.To = update.To
	}
	if update.Status != "" {
		s.Status = update.Status
	}
	return s
}

// Empty reports whether no filter is set.
func (s State) Empty() bool {
	return s.Query == "" && s.Description == "" && s.From == "" && s.To == "" && s.Status == ""
}

// Matches reports whether o passes every filter in s. Query matches the
// customer name or mobile number; Description matches any decoded line.
func (s State) Matches(o orders.Order) bool {
	if s.Status != "" && o.Status != s.Status {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(s.Query)); q != "" {
		if !strings.Contains(strings.ToLower(o.CustomerName), q) && !strings.Contains(o.CustomerMobile, q) {
			return false
		}
	}
	if s.From != "" || s.To != "" {
		if o.ReturnDate == "" {
			return false
		}
		if s.From != "" && o.ReturnDate < s.From {
			return false
		}
		if s.To != "" && o.ReturnDate > s.To {
			return false
		}
	}
	if d := strings.ToLower(strings.TrimSpace(s.Description)); d != "" {
		lines, _ := lineitem.DecodeAll(o.ItemsOrdered)
		found := false
		for _, li := range lines {
			if strings.Contains(strings.ToLower(li.Description), d) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Filter returns the orders that match s, keeping their order.
func Filter(list []orders.Order, s State) []orders.Order {
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		if s.Matches(o) {
			out = append(out, o)
		}
	}
	return out
}
