package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/database"
	"github.com/Additional-Code/pharmadesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// Query is a role-shaped listing request. Visibility and Window come from the
// access package; the remaining fields narrow the result further.
type Query struct {
	Visibility    access.Visibility
	Window        access.Window
	PatientNumber string
	// CollectionFrom and CollectionTo bound collectionDate to [from, to).
	CollectionFrom *time.Time
	CollectionTo   *time.Time
	// WithCollectionDate drops orders that have no collection date.
	WithCollectionDate bool
}

// Update lists the single-document field changes a caller may apply. Nil
// pointers leave the field untouched.
type Update struct {
	LogisticsStatus  *string
	PharmacyStatus   *string
	CollectionDate   **time.Time
	CollectionStatus *string
	UpdatedAt        time.Time
}

// Repository encapsulates read/write access for orders.
type Repository interface {
	List(ctx context.Context, q Query) ([]entity.Order, error)
	Customers(ctx context.Context, q Query) ([]entity.CustomerSummary, error)
	CollectionDays(ctx context.Context, q Query) ([]entity.CollectionDay, error)
	GetByID(ctx context.Context, id string) (*entity.Order, error)
	Update(ctx context.Context, id string, u Update) (*entity.Order, error)
	AppendLog(ctx context.Context, id string, entry entity.LogEntry) error
	AppendRemark(ctx context.Context, id string, remark entity.Remark) error
	// Insert stores a new order. Only the seeder calls it; intake is external.
	Insert(ctx context.Context, o *entity.Order) error
}

// NewRepository picks the implementation matching the configured storage driver.
func NewRepository(cfg config.Config, conns *database.Connections) (Repository, error) {
	switch {
	case conns.Driver == "mongo":
		return newMongoRepository(conns.Mongo.Collection(cfg.Database.Mongo.OrdersCollection)), nil
	case cfg.Database.IsSQL():
		return newSQLRepository(conns.Writer, conns.Reader), nil
	case conns.Driver == "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("no order repository for driver %q", conns.Driver)
	}
}

// ValidID reports whether id has the 24 hex character object id format used for order keys.
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// NewID returns a fresh order key.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return repoTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// recordFailure marks span failed unless err is a plain not-found.
func recordFailure(span trace.Span, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		span.SetStatus(codes.Error, "not found")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
