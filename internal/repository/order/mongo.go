package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

// Document keys as written by the intake service.
const (
	keyID               = "_id"
	keyProduct          = "product"
	keyReceiverName     = "receiverName"
	keyPatientNumber    = "patientNumber"
	keyDoTrackingNumber = "doTrackingNumber"
	keyJobMethod        = "jobMethod"
	keyLogisticsStatus  = "goRushStatus"
	keyPharmacyStatus   = "pharmacyStatus"
	keyCollectionDate   = "collectionDate"
	keyCollectionStatus = "collectionStatus"
	keyCreationDate     = "creationDate"
	keyUpdatedAt        = "updatedAt"
	keyLogs             = "logs"
	keyRemarks          = "pharmacyRemarks"
)

type mongoRepository struct {
	orders *mongo.Collection
}

func newMongoRepository(orders *mongo.Collection) *mongoRepository {
	return &mongoRepository{orders: orders}
}

func (r *mongoRepository) List(ctx context.Context, q Query) ([]entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.List", attribute.String("db.system", "mongodb"))
	defer span.End()

	out := make([]entity.Order, 0)
	if q.Visibility.Empty() {
		return out, nil
	}

	dir := 1
	if q.Window.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: sortKey(q.Window.SortBy), Value: dir}, {Key: keyID, Value: dir}})

	cur, err := r.orders.Find(ctx, mongoFilter(q), opts)
	if err != nil {
		recordFailure(span, err, "find failed")
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			recordFailure(span, err, "decode failed")
			return nil, err
		}
		out = append(out, decodeOrder(doc))
	}
	if err := cur.Err(); err != nil {
		recordFailure(span, err, "cursor failed")
		return nil, err
	}
	return out, nil
}

type customerRow struct {
	Key struct {
		ReceiverName  string `bson:"receiverName"`
		PatientNumber string `bson:"patientNumber"`
	} `bson:"_id"`
	TotalOrders    int        `bson:"totalOrders"`
	FirstOrderDate *time.Time `bson:"firstOrderDate"`
	LastOrderDate  *time.Time `bson:"lastOrderDate"`
}

func (r *mongoRepository) Customers(ctx context.Context, q Query) ([]entity.CustomerSummary, error) {
	ctx, span := startSpan(ctx, "OrderRepository.Customers", attribute.String("db.system", "mongodb"))
	defer span.End()

	out := make([]entity.CustomerSummary, 0)
	if q.Visibility.Empty() {
		return out, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: mongoFilter(q)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "receiverName", Value: "$" + keyReceiverName},
				{Key: "patientNumber", Value: "$" + keyPatientNumber},
			}},
			{Key: "totalOrders", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "firstOrderDate", Value: bson.D{{Key: "$min", Value: "$" + keyCreationDate}}},
			{Key: "lastOrderDate", Value: bson.D{{Key: "$max", Value: "$" + keyCreationDate}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.receiverName", Value: 1}, {Key: "_id.patientNumber", Value: 1}}}},
	}

	cur, err := r.orders.Aggregate(ctx, pipeline)
	if err != nil {
		recordFailure(span, err, "aggregate failed")
		return nil, err
	}
	var rows []customerRow
	if err := cur.All(ctx, &rows); err != nil {
		recordFailure(span, err, "decode failed")
		return nil, err
	}
	for _, row := range rows {
		out = append(out, entity.CustomerSummary{
			ReceiverName:   row.Key.ReceiverName,
			PatientNumber:  row.Key.PatientNumber,
			TotalOrders:    row.TotalOrders,
			FirstOrderDate: utcPtr(row.FirstOrderDate),
			LastOrderDate:  utcPtr(row.LastOrderDate),
		})
	}
	return out, nil
}

type dayRow struct {
	Day        string `bson:"_id"`
	OrderCount int    `bson:"orderCount"`
}

func (r *mongoRepository) CollectionDays(ctx context.Context, q Query) ([]entity.CollectionDay, error) {
	ctx, span := startSpan(ctx, "OrderRepository.CollectionDays", attribute.String("db.system", "mongodb"))
	defer span.End()

	out := make([]entity.CollectionDay, 0)
	if q.Visibility.Empty() {
		return out, nil
	}
	q.WithCollectionDate = true

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: mongoFilter(q)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$" + keyCollectionDate},
				{Key: "timezone", Value: "UTC"},
			}}}},
			{Key: "orderCount", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cur, err := r.orders.Aggregate(ctx, pipeline)
	if err != nil {
		recordFailure(span, err, "aggregate failed")
		return nil, err
	}
	var rows []dayRow
	if err := cur.All(ctx, &rows); err != nil {
		recordFailure(span, err, "decode failed")
		return nil, err
	}
	for _, row := range rows {
		out = append(out, newCollectionDay(row.Day, row.OrderCount))
	}
	return out, nil
}

func (r *mongoRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.GetByID", attribute.String("order.id", id))
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		recordFailure(span, ErrNotFound, "")
		return nil, ErrNotFound
	}

	var doc bson.M
	err = r.orders.FindOne(ctx, bson.M{keyID: oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		recordFailure(span, ErrNotFound, "")
		return nil, ErrNotFound
	}
	if err != nil {
		recordFailure(span, err, "find failed")
		return nil, err
	}
	o := decodeOrder(doc)
	return &o, nil
}

func (r *mongoRepository) Update(ctx context.Context, id string, u Update) (*entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.Update", attribute.String("order.id", id))
	defer span.End()

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		recordFailure(span, ErrNotFound, "")
		return nil, ErrNotFound
	}

	set := bson.M{keyUpdatedAt: u.UpdatedAt}
	if u.LogisticsStatus != nil {
		set[keyLogisticsStatus] = *u.LogisticsStatus
	}
	if u.PharmacyStatus != nil {
		set[keyPharmacyStatus] = *u.PharmacyStatus
	}
	if u.CollectionDate != nil {
		if *u.CollectionDate == nil {
			set[keyCollectionDate] = nil
		} else {
			set[keyCollectionDate] = **u.CollectionDate
		}
	}
	if u.CollectionStatus != nil {
		set[keyCollectionStatus] = *u.CollectionStatus
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err = r.orders.FindOneAndUpdate(ctx, bson.M{keyID: oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		recordFailure(span, ErrNotFound, "")
		return nil, ErrNotFound
	}
	if err != nil {
		recordFailure(span, err, "update failed")
		return nil, err
	}
	o := decodeOrder(doc)
	return &o, nil
}

func (r *mongoRepository) AppendLog(ctx context.Context, id string, entry entity.LogEntry) error {
	ctx, span := startSpan(ctx, "OrderRepository.AppendLog", attribute.String("order.id", id))
	defer span.End()

	err := r.push(ctx, id, keyLogs, bson.M{
		"note":      entry.Note,
		"category":  entry.Category,
		"createdBy": entry.CreatedBy,
		"createdAt": entry.CreatedAt,
	})
	if err != nil {
		recordFailure(span, err, "push failed")
	}
	return err
}

func (r *mongoRepository) AppendRemark(ctx context.Context, id string, remark entity.Remark) error {
	ctx, span := startSpan(ctx, "OrderRepository.AppendRemark", attribute.String("order.id", id))
	defer span.End()

	err := r.push(ctx, id, keyRemarks, bson.M{
		"remark":    remark.Remark,
		"createdBy": remark.CreatedBy,
		"createdAt": remark.CreatedAt,
	})
	if err != nil {
		recordFailure(span, err, "push failed")
	}
	return err
}

// push appends one element to an array field; the store applies it atomically.
func (r *mongoRepository) push(ctx context.Context, id, field string, value bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.orders.UpdateOne(ctx, bson.M{keyID: oid}, bson.M{"$push": bson.M{field: value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoRepository) Insert(ctx context.Context, o *entity.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	ctx, span := startSpan(ctx, "OrderRepository.Insert")
	defer span.End()

	if o.ID == "" {
		o.ID = NewID()
	}
	o.Normalize()
	doc, err := encodeOrder(o)
	if err != nil {
		recordFailure(span, err, "encode failed")
		return err
	}
	if _, err := r.orders.InsertOne(ctx, doc); err != nil {
		recordFailure(span, err, "insert failed")
		return err
	}
	return nil
}

func sortKey(f access.SortField) string {
	if f == access.SortCollectionDate {
		return keyCollectionDate
	}
	return keyCreationDate
}

// mongoFilter translates q into a query document. Callers handle empty visibility.
func mongoFilter(q Query) bson.M {
	clauses := bson.A{visibilityFilter(q.Visibility)}

	if !q.Window.CreatedAfter.IsZero() {
		clauses = append(clauses, bson.M{keyCreationDate: bson.M{"$gte": q.Window.CreatedAfter}})
	}
	if q.PatientNumber != "" {
		clauses = append(clauses, bson.M{keyPatientNumber: q.PatientNumber})
	}
	if q.WithCollectionDate {
		clauses = append(clauses, bson.M{keyCollectionDate: bson.M{"$ne": nil}})
	}
	if q.CollectionFrom != nil || q.CollectionTo != nil {
		rng := bson.M{}
		if q.CollectionFrom != nil {
			rng["$gte"] = *q.CollectionFrom
		}
		if q.CollectionTo != nil {
			rng["$lt"] = *q.CollectionTo
		}
		clauses = append(clauses, bson.M{keyCollectionDate: rng})
	}
	return bson.M{"$and": clauses}
}

// visibilityFilter matches a missing product and null alike through $in/$nin with nil.
func visibilityFilter(v access.Visibility) bson.M {
	var or bson.A
	if len(v.Products) > 0 {
		or = append(or, bson.M{keyProduct: bson.M{"$in": v.Products}})
	}
	if v.Legacy {
		or = append(or, bson.M{keyProduct: bson.M{"$in": bson.A{nil, ""}}})
	}
	if v.Unlisted {
		excluded := bson.A{nil, ""}
		for _, p := range v.Excluded {
			excluded = append(excluded, p)
		}
		or = append(or, bson.M{keyProduct: bson.M{"$nin": excluded}})
	}
	return bson.M{"$or": or}
}

// decodeOrder maps a raw document onto an Order. Unknown keys land in Extra
// and values of an unexpected type are ignored rather than failing the read.
func decodeOrder(doc bson.M) entity.Order {
	var o entity.Order
	for k, v := range doc {
		switch k {
		case keyID:
			o.ID = asString(v)
		case keyProduct:
			if s, ok := v.(string); ok {
				o.Product = &s
			}
		case keyReceiverName:
			o.ReceiverName = asString(v)
		case keyPatientNumber:
			o.PatientNumber = asString(v)
		case keyDoTrackingNumber:
			o.DoTrackingNumber = asString(v)
		case keyJobMethod:
			o.JobMethod = asString(v)
		case keyLogisticsStatus:
			o.LogisticsStatus = asString(v)
		case keyPharmacyStatus:
			o.PharmacyStatus = asString(v)
		case keyCollectionDate:
			o.CollectionDate = asTime(v)
		case keyCollectionStatus:
			o.CollectionStatus = asString(v)
		case keyCreationDate:
			o.CreationDate = asTime(v)
		case keyUpdatedAt:
			o.UpdatedAt = asTime(v)
		case keyLogs:
			for _, item := range asArray(v) {
				d := asDoc(item)
				if d == nil {
					continue
				}
				o.Logs = append(o.Logs, entity.LogEntry{
					Note:      asString(d["note"]),
					Category:  asString(d["category"]),
					CreatedBy: asString(d["createdBy"]),
					CreatedAt: timeOrZero(asTime(d["createdAt"])),
				})
			}
		case keyRemarks:
			for _, item := range asArray(v) {
				d := asDoc(item)
				if d == nil {
					continue
				}
				o.Remarks = append(o.Remarks, entity.Remark{
					Remark:    asString(d["remark"]),
					CreatedBy: asString(d["createdBy"]),
					CreatedAt: timeOrZero(asTime(d["createdAt"])),
				})
			}
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[k] = plainValue(v)
		}
	}
	for i := range o.Logs {
		o.Logs[i].OrderID = o.ID
	}
	for i := range o.Remarks {
		o.Remarks[i].OrderID = o.ID
	}
	o.Normalize()
	return o
}

func encodeOrder(o *entity.Order) (bson.M, error) {
	oid, err := primitive.ObjectIDFromHex(o.ID)
	if err != nil {
		return nil, fmt.Errorf("order id %q: %w", o.ID, err)
	}
	doc := bson.M{}
	for k, v := range o.Extra {
		doc[k] = v
	}
	doc[keyID] = oid
	if o.Product != nil {
		doc[keyProduct] = *o.Product
	}
	doc[keyReceiverName] = o.ReceiverName
	doc[keyPatientNumber] = o.PatientNumber
	doc[keyDoTrackingNumber] = o.DoTrackingNumber
	doc[keyJobMethod] = o.JobMethod
	doc[keyLogisticsStatus] = o.LogisticsStatus
	doc[keyPharmacyStatus] = o.PharmacyStatus
	doc[keyCollectionDate] = o.CollectionDate
	doc[keyCollectionStatus] = o.CollectionStatus
	doc[keyCreationDate] = o.CreationDate
	if o.UpdatedAt != nil {
		doc[keyUpdatedAt] = *o.UpdatedAt
	}

	logs := bson.A{}
	for _, l := range o.Logs {
		logs = append(logs, bson.M{"note": l.Note, "category": l.Category, "createdBy": l.CreatedBy, "createdAt": l.CreatedAt})
	}
	doc[keyLogs] = logs
	remarks := bson.A{}
	for _, rm := range o.Remarks {
		remarks = append(remarks, bson.M{"remark": rm.Remark, "createdBy": rm.CreatedBy, "createdAt": rm.CreatedAt})
	}
	doc[keyRemarks] = remarks
	return doc, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asTime(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case primitive.DateTime:
		t = x.Time()
	case time.Time:
		t = x
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func asArray(v any) []any {
	switch t := v.(type) {
	case primitive.A:
		return t
	case []any:
		return t
	default:
		return nil
	}
}

func asDoc(v any) map[string]any {
	switch t := v.(type) {
	case bson.M:
		return t
	case map[string]any:
		return t
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return m
	default:
		return nil
	}
}

// plainValue turns driver-specific values into ones encoding/json renders sensibly.
func plainValue(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	case bson.D, bson.M:
		src := asDoc(t)
		out := make(map[string]any, len(src))
		for k, item := range src {
			out[k] = plainValue(item)
		}
		return out
	default:
		return v
	}
}
