package models

import "sort"

func displayRank(s Status) int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusCancelled:
		return 2
	default:
		return 0
	}
}

// DisplayLess orders the board: open orders, then delivered, then cancelled;
// within a group, orders with a requested delivery time come first, ascending,
// and ties fall back to creation time.
func DisplayLess(a, b Order) bool {
	if ra, rb := displayRank(a.Status), displayRank(b.Status); ra != rb {
		return ra < rb
	}

	aReq, bReq := a.RequestedDeliveryTime, b.RequestedDeliveryTime
	switch {
	case aReq != nil && bReq == nil:
		return true
	case aReq == nil && bReq != nil:
		return false
	case aReq != nil && bReq != nil && !aReq.Equal(*bReq):
		return aReq.Before(*bReq)
	}

	return a.CreatedAt.Before(b.CreatedAt)
}

func SortForDisplay(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return DisplayLess(orders[i], orders[j])
	})
}
