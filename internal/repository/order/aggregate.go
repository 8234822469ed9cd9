package order

import (
	"cmp"
	"slices"
	"time"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

const dayLayout = time.DateOnly

// groupCustomers folds orders into one row per (receiverName, patientNumber),
// sorted by receiver name.
func groupCustomers(orders []entity.Order) []entity.CustomerSummary {
	type key struct{ name, patient string }
	index := make(map[key]int)
	rows := make([]entity.CustomerSummary, 0)

	for i := range orders {
		o := &orders[i]
		k := key{o.ReceiverName, o.PatientNumber}
		pos, ok := index[k]
		if !ok {
			pos = len(rows)
			index[k] = pos
			rows = append(rows, entity.CustomerSummary{ReceiverName: o.ReceiverName, PatientNumber: o.PatientNumber})
		}
		row := &rows[pos]
		row.TotalOrders++
		if o.CreationDate == nil {
			continue
		}
		created := *o.CreationDate
		if row.FirstOrderDate == nil || created.Before(*row.FirstOrderDate) {
			row.FirstOrderDate = &created
		}
		if row.LastOrderDate == nil || created.After(*row.LastOrderDate) {
			row.LastOrderDate = &created
		}
	}

	slices.SortStableFunc(rows, func(a, b entity.CustomerSummary) int {
		if c := cmp.Compare(a.ReceiverName, b.ReceiverName); c != 0 {
			return c
		}
		return cmp.Compare(a.PatientNumber, b.PatientNumber)
	})
	return rows
}

// bucketCollectionDays counts dates per UTC calendar day, oldest day first.
func bucketCollectionDays(dates []time.Time) []entity.CollectionDay {
	counts := make(map[string]int)
	for _, d := range dates {
		counts[d.UTC().Format(dayLayout)]++
	}
	days := make([]entity.CollectionDay, 0, len(counts))
	for day, n := range counts {
		days = append(days, newCollectionDay(day, n))
	}
	slices.SortFunc(days, func(a, b entity.CollectionDay) int {
		return cmp.Compare(a.DateString, b.DateString)
	})
	return days
}

func newCollectionDay(day string, count int) entity.CollectionDay {
	date, _ := time.ParseInLocation(dayLayout, day, time.UTC)
	return entity.CollectionDay{DateString: day, Date: date, OrderCount: count}
}

// sortOrders orders a slice in place according to w. Ties on the sort field
// fall back to the order id in the same direction, matching the stores.
func sortOrders(orders []entity.Order, w access.Window) {
	pick := func(o *entity.Order) *time.Time {
		if w.SortBy == access.SortCollectionDate {
			return o.CollectionDate
		}
		return o.CreationDate
	}
	slices.SortFunc(orders, func(a, b entity.Order) int {
		c := compareTimes(pick(&a), pick(&b))
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if w.Descending {
			return -c
		}
		return c
	})
}

// compareTimes sorts missing values before present ones, as the document store does.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

// matches applies every Query clause to a single order in-process.
func (q Query) matches(o *entity.Order) bool {
	if !q.Visibility.MatchesOrder(o) {
		return false
	}
	if !q.Window.Includes(o.CreationDate) {
		return false
	}
	if q.PatientNumber != "" && o.PatientNumber != q.PatientNumber {
		return false
	}
	if q.WithCollectionDate && o.CollectionDate == nil {
		return false
	}
	if q.CollectionFrom != nil || q.CollectionTo != nil {
		if o.CollectionDate == nil {
			return false
		}
		if q.CollectionFrom != nil && o.CollectionDate.Before(*q.CollectionFrom) {
			return false
		}
		if q.CollectionTo != nil && !o.CollectionDate.Before(*q.CollectionTo) {
			return false
		}
	}
	return true
}
