package entity

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// StatusPending is the initial value of both status tracks.
const StatusPending = "pending"

// Order is a delivery order shared by the logistics operator and the pharmacy
// tenants. Fields outside the known set are kept verbatim in Extra and are
// never written by the API.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID               string     `bun:"id,pk" json:"_id"`
	Product          *string    `bun:"product" json:"product,omitempty"`
	ReceiverName     string     `bun:"receiver_name" json:"receiverName,omitempty"`
	PatientNumber    string     `bun:"patient_number" json:"patientNumber,omitempty"`
	DoTrackingNumber string     `bun:"do_tracking_number" json:"doTrackingNumber,omitempty"`
	JobMethod        string     `bun:"job_method" json:"jobMethod,omitempty"`
	LogisticsStatus  string     `bun:"go_rush_status" json:"logisticsStatus"`
	PharmacyStatus   string     `bun:"pharmacy_status" json:"pharmacyStatus"`
	CollectionDate   *time.Time `bun:"collection_date" json:"collectionDate"`
	CollectionStatus string     `bun:"collection_status" json:"collectionStatus,omitempty"`
	CreationDate     *time.Time `bun:"creation_date" json:"creationDate,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at" json:"updatedAt,omitempty"`
	Logs             []LogEntry `bun:"rel:has-many,join:id=order_id" json:"logs"`
	Remarks          []Remark   `bun:"rel:has-many,join:id=order_id" json:"pharmacyRemarks"`

	Extra map[string]any `bun:"extra" json:"-"`
}

// LogEntry is an operator note appended to an order. Entries are never edited.
type LogEntry struct {
	bun.BaseModel `bun:"table:order_logs"`

	ID        int64     `bun:",pk,autoincrement" json:"-"`
	OrderID   string    `bun:"order_id" json:"-"`
	Note      string    `bun:"note" json:"note"`
	Category  string    `bun:"category" json:"category"`
	CreatedBy string    `bun:"created_by" json:"createdBy"`
	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
}

// Remark is a pharmacy note appended to an order. Remarks are never edited.
type Remark struct {
	bun.BaseModel `bun:"table:order_remarks"`

	ID        int64     `bun:",pk,autoincrement" json:"-"`
	OrderID   string    `bun:"order_id" json:"-"`
	Remark    string    `bun:"remark" json:"remark"`
	CreatedBy string    `bun:"created_by" json:"createdBy"`
	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
}

// ProductTag returns the tenant tag and whether the order carries one.
// An empty tag is treated the same as a missing one.
func (o *Order) ProductTag() (string, bool) {
	if o.Product == nil || *o.Product == "" {
		return "", false
	}
	return *o.Product, true
}

// Normalize fills defaults for documents written by older intake versions.
func (o *Order) Normalize() {
	if o.LogisticsStatus == "" {
		o.LogisticsStatus = StatusPending
	}
	if o.PharmacyStatus == "" {
		o.PharmacyStatus = StatusPending
	}
	if o.Logs == nil {
		o.Logs = []LogEntry{}
	}
	if o.Remarks == nil {
		o.Remarks = []Remark{}
	}
}

// MarshalJSON flattens Extra into the top-level document. Known fields win on
// key collisions.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	known, err := json.Marshal(plain(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return known, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	doc := make(map[string]json.RawMessage, len(fields)+len(o.Extra))
	for k, v := range o.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[k] = raw
	}
	for k, v := range fields {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// CustomerSummary is one row of the customers view: orders grouped by
// receiver name and patient number.
type CustomerSummary struct {
	ReceiverName   string     `bun:"receiver_name" json:"receiverName"`
	PatientNumber  string     `bun:"patient_number" json:"patientNumber"`
	TotalOrders    int        `bun:"total_orders" json:"totalOrders"`
	FirstOrderDate *time.Time `bun:"first_order_date" json:"firstOrderDate"`
	LastOrderDate  *time.Time `bun:"last_order_date" json:"lastOrderDate"`
}

// CollectionDay counts orders scheduled for collection on one UTC calendar day.
type CollectionDay struct {
	DateString string    `json:"dateString"`
	Date       time.Time `json:"date"`
	OrderCount int       `json:"orderCount"`
}
