package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

// sqlRepository stores orders in relational tables through bun. Logs and
// remarks live in child tables keyed by order_id.
type sqlRepository struct {
	writer *bun.DB
	reader *bun.DB
}

func newSQLRepository(writer, reader *bun.DB) *sqlRepository {
	if reader == nil {
		reader = writer
	}
	return &sqlRepository{writer: writer, reader: reader}
}

func (r *sqlRepository) List(ctx context.Context, q Query) ([]entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.List", attribute.String("db.system", "sql"))
	defer span.End()

	orders := make([]entity.Order, 0)
	if q.Visibility.Empty() {
		return orders, nil
	}

	dir := " ASC"
	if q.Window.Descending {
		dir = " DESC"
	}
	err := r.reader.NewSelect().
		Model(&orders).
		Relation("Logs", orderByID).
		Relation("Remarks", orderByID).
		Apply(applyQuery(q)).
		Order(sortColumn(q.Window.SortBy)+dir, "o.id"+dir).
		Scan(ctx)
	if err != nil {
		recordFailure(span, err, "select failed")
		return nil, err
	}
	for i := range orders {
		orders[i].Normalize()
	}
	return orders, nil
}

func (r *sqlRepository) Customers(ctx context.Context, q Query) ([]entity.CustomerSummary, error) {
	ctx, span := startSpan(ctx, "OrderRepository.Customers", attribute.String("db.system", "sql"))
	defer span.End()

	rows := make([]entity.CustomerSummary, 0)
	if q.Visibility.Empty() {
		return rows, nil
	}

	err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		ColumnExpr("o.receiver_name AS receiver_name").
		ColumnExpr("o.patient_number AS patient_number").
		ColumnExpr("COUNT(*) AS total_orders").
		ColumnExpr("MIN(o.creation_date) AS first_order_date").
		ColumnExpr("MAX(o.creation_date) AS last_order_date").
		Apply(applyQuery(q)).
		Group("o.receiver_name", "o.patient_number").
		Order("o.receiver_name ASC", "o.patient_number ASC").
		Scan(ctx, &rows)
	if err != nil {
		recordFailure(span, err, "select failed")
		return nil, err
	}
	return rows, nil
}

func (r *sqlRepository) CollectionDays(ctx context.Context, q Query) ([]entity.CollectionDay, error) {
	ctx, span := startSpan(ctx, "OrderRepository.CollectionDays", attribute.String("db.system", "sql"))
	defer span.End()

	if q.Visibility.Empty() {
		return make([]entity.CollectionDay, 0), nil
	}
	q.WithCollectionDate = true

	// Day truncation differs per dialect, so dates are bucketed here.
	var dates []time.Time
	err := r.reader.NewSelect().
		Model((*entity.Order)(nil)).
		Column("o.collection_date").
		Apply(applyQuery(q)).
		Scan(ctx, &dates)
	if err != nil {
		recordFailure(span, err, "select failed")
		return nil, err
	}
	return bucketCollectionDays(dates), nil
}

func (r *sqlRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.GetByID", attribute.String("order.id", id))
	defer span.End()

	o, err := r.load(ctx, r.reader, id)
	if err != nil {
		recordFailure(span, err, "select failed")
		return nil, err
	}
	return o, nil
}

func (r *sqlRepository) Update(ctx context.Context, id string, u Update) (*entity.Order, error) {
	ctx, span := startSpan(ctx, "OrderRepository.Update", attribute.String("order.id", id))
	defer span.End()

	var updated *entity.Order
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*entity.Order)(nil)).
			Set("updated_at = ?", u.UpdatedAt).
			Where("id = ?", id)
		if u.LogisticsStatus != nil {
			q = q.Set("go_rush_status = ?", *u.LogisticsStatus)
		}
		if u.PharmacyStatus != nil {
			q = q.Set("pharmacy_status = ?", *u.PharmacyStatus)
		}
		if u.CollectionDate != nil {
			q = q.Set("collection_date = ?", *u.CollectionDate)
		}
		if u.CollectionStatus != nil {
			q = q.Set("collection_status = ?", *u.CollectionStatus)
		}
		if _, err := q.Exec(ctx); err != nil {
			return err
		}

		o, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		recordFailure(span, err, "update failed")
		return nil, err
	}
	return updated, nil
}

func (r *sqlRepository) AppendLog(ctx context.Context, id string, entry entity.LogEntry) error {
	ctx, span := startSpan(ctx, "OrderRepository.AppendLog", attribute.String("order.id", id))
	defer span.End()

	entry.OrderID = id
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureExists(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&entry).Exec(ctx)
		return err
	})
	if err != nil {
		recordFailure(span, err, "insert failed")
	}
	return err
}

func (r *sqlRepository) AppendRemark(ctx context.Context, id string, remark entity.Remark) error {
	ctx, span := startSpan(ctx, "OrderRepository.AppendRemark", attribute.String("order.id", id))
	defer span.End()

	remark.OrderID = id
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := ensureExists(ctx, tx, id); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&remark).Exec(ctx)
		return err
	})
	if err != nil {
		recordFailure(span, err, "insert failed")
	}
	return err
}

func (r *sqlRepository) Insert(ctx context.Context, o *entity.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	ctx, span := startSpan(ctx, "OrderRepository.Insert")
	defer span.End()

	if o.ID == "" {
		o.ID = NewID()
	}
	o.Normalize()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
			return err
		}
		for i := range o.Logs {
			o.Logs[i].OrderID = o.ID
		}
		for i := range o.Remarks {
			o.Remarks[i].OrderID = o.ID
		}
		if len(o.Logs) > 0 {
			if _, err := tx.NewInsert().Model(&o.Logs).Exec(ctx); err != nil {
				return err
			}
		}
		if len(o.Remarks) > 0 {
			if _, err := tx.NewInsert().Model(&o.Remarks).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		recordFailure(span, err, "insert failed")
	}
	return err
}

func (r *sqlRepository) load(ctx context.Context, db bun.IDB, id string) (*entity.Order, error) {
	o := new(entity.Order)
	err := db.NewSelect().
		Model(o).
		Relation("Logs", orderByID).
		Relation("Remarks", orderByID).
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Normalize()
	return o, nil
}

func ensureExists(ctx context.Context, tx bun.Tx, id string) error {
	ok, err := tx.NewSelect().Model((*entity.Order)(nil)).Where("o.id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func orderByID(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("id ASC")
}

func sortColumn(f access.SortField) string {
	if f == access.SortCollectionDate {
		return "o.collection_date"
	}
	return "o.creation_date"
}

// applyQuery adds the WHERE clauses for q. Callers handle empty visibility.
func applyQuery(q Query) func(*bun.SelectQuery) *bun.SelectQuery {
	return func(sq *bun.SelectQuery) *bun.SelectQuery {
		sq = sq.WhereGroup(" AND ", func(g *bun.SelectQuery) *bun.SelectQuery {
			v := q.Visibility
			if len(v.Products) > 0 {
				g = g.WhereOr("o.product IN (?)", bun.In(v.Products))
			}
			if v.Legacy {
				g = g.WhereOr("(o.product IS NULL OR o.product = '')")
			}
			if v.Unlisted {
				if len(v.Excluded) > 0 {
					g = g.WhereOr("(o.product IS NOT NULL AND o.product <> '' AND o.product NOT IN (?))", bun.In(v.Excluded))
				} else {
					g = g.WhereOr("(o.product IS NOT NULL AND o.product <> '')")
				}
			}
			return g
		})
		if !q.Window.CreatedAfter.IsZero() {
			sq = sq.Where("o.creation_date >= ?", q.Window.CreatedAfter)
		}
		if q.PatientNumber != "" {
			sq = sq.Where("o.patient_number = ?", q.PatientNumber)
		}
		if q.WithCollectionDate {
			sq = sq.Where("o.collection_date IS NOT NULL")
		}
		if q.CollectionFrom != nil {
			sq = sq.Where("o.collection_date >= ?", *q.CollectionFrom)
		}
		if q.CollectionTo != nil {
			sq = sq.Where("o.collection_date < ?", *q.CollectionTo)
		}
		return sq
	}
}
