package access

import (
	"slices"
	"time"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

// Field names an order attribute guarded by CanWrite.
type Field string

const (
	FieldLogisticsStatus Field = "logisticsStatus"
	FieldPharmacyStatus  Field = "pharmacyStatus"
	FieldLogs            Field = "logs"
	FieldRemarks         Field = "remarks"
	FieldCollectionDate  Field = "collectionDate"
)

// Visibility is the storage-independent form of a role's data filter. An order
// matches when any enabled clause matches its product tag:
//   - Products: the tag is one of the listed values.
//   - Legacy: the order carries no tag.
//   - Unlisted: the order carries a tag outside Excluded.
//
// The zero value matches nothing.
type Visibility struct {
	Products []string
	Legacy   bool
	Unlisted bool
	Excluded []string
}

// Empty reports whether v can never match an order.
func (v Visibility) Empty() bool {
	return len(v.Products) == 0 && !v.Legacy && !v.Unlisted
}

// Matches evaluates v against an order's product tag. present is false for untagged orders.
func (v Visibility) Matches(product string, present bool) bool {
	if !present {
		return v.Legacy
	}
	if slices.Contains(v.Products, product) {
		return true
	}
	return v.Unlisted && !slices.Contains(v.Excluded, product)
}

// MatchesOrder is Matches applied to o's product tag.
func (v Visibility) MatchesOrder(o *entity.Order) bool {
	if o == nil {
		return false
	}
	product, present := o.ProductTag()
	return v.Matches(product, present)
}

// VisibilityFor derives the list filter for r.
//
// The legacy defaults are asymmetric: untagged orders belong to JPMC, while
// MOH additionally picks up any tagged product that is neither JPMC nor on
// the exclusion list.
func VisibilityFor(r Role) Visibility {
	switch r {
	case RoleOperator:
		return Visibility{Products: []string{ProductMOH, ProductJPMC}}
	case RoleJPMC:
		return Visibility{Products: []string{ProductJPMC}, Legacy: true}
	case RoleMOH:
		return Visibility{
			Products: []string{ProductMOH},
			Unlisted: true,
			Excluded: slices.Clone(mohExcludedProducts),
		}
	default:
		return Visibility{}
	}
}

// CanRead reports whether r may open o by id.
func CanRead(r Role, o *entity.Order) bool {
	if o == nil {
		return false
	}
	switch r {
	case RoleOperator:
		return true
	case RoleMOH, RoleJPMC:
		return ownsOrder(r, o)
	default:
		return false
	}
}

// CanWrite reports whether r may change field f on o.
func CanWrite(r Role, o *entity.Order, f Field) bool {
	if o == nil {
		return false
	}
	switch f {
	case FieldLogisticsStatus, FieldLogs:
		return r == RoleOperator
	case FieldPharmacyStatus, FieldRemarks:
		return ownsOrder(r, o)
	case FieldCollectionDate:
		return CanRead(r, o)
	default:
		return false
	}
}

// ownsOrder is the pharmacy tenancy test: MOH needs its exact tag, JPMC also owns untagged orders.
func ownsOrder(r Role, o *entity.Order) bool {
	product, present := o.ProductTag()
	switch r {
	case RoleMOH:
		return present && product == ProductMOH
	case RoleJPMC:
		return !present || product == ProductJPMC
	default:
		return false
	}
}

// SortField names the order attribute a listing is sorted by.
type SortField string

const (
	SortCreationDate   SortField = "creationDate"
	SortCollectionDate SortField = "collectionDate"
)

// Window shapes how many orders a listing returns and in which order.
type Window struct {
	CreatedAfter time.Time
	SortBy       SortField
	Descending   bool
}

// ResultWindow returns the listing window for r. Every role currently shares
// the same creation-date floor and newest-first ordering; no per-role row caps.
func ResultWindow(r Role, floor time.Time) Window {
	return Window{
		CreatedAfter: floor.UTC(),
		SortBy:       SortCreationDate,
		Descending:   true,
	}
}

// Includes reports whether an order created at createdAt falls inside w.
// Orders without a creation date are outside every window with a floor.
func (w Window) Includes(createdAt *time.Time) bool {
	if w.CreatedAfter.IsZero() {
		return true
	}
	if createdAt == nil {
		return false
	}
	return !createdAt.Before(w.CreatedAfter)
}
