package order

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/config"
	"github.com/Additional-Code/pharmadesk/internal/entity"
	"github.com/Additional-Code/pharmadesk/internal/messaging"
	repo "github.com/Additional-Code/pharmadesk/internal/repository/order"
	"github.com/Additional-Code/pharmadesk/internal/tracking"
	"github.com/Additional-Code/pharmadesk/pkg/errorbank"
)

var (
	serviceTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/service/order")
	serviceMeter  = otel.Meter("github.com/Additional-Code/pharmadesk/service/order")
)

// Messages returned to callers. Denials never reveal the owning tenant.
const (
	msgAccessDenied = "access denied"
	msgNotFound     = "order not found"
	msgInvalidID    = "invalid order id"
)

// Service enforces the access policy around every order read and write.
type Service struct {
	repo      repo.Repository
	tracker   tracking.Client
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	floor     time.Time
	denied    metric.Int64Counter
	now       func() time.Time
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository repo.Repository
	Tracker    tracking.Client
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	denied, err := serviceMeter.Int64Counter("pharmadesk.access.denied",
		metric.WithDescription("Requests rejected by the order access policy"))
	if err != nil {
		logger.Warn("access denied counter unavailable", zap.Error(err))
	}
	return &Service{
		repo:      p.Repository,
		tracker:   p.Tracker,
		logger:    logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		floor:  p.Config.Access.CreatedAfter,
		denied: denied,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) query(role access.Role) repo.Query {
	return repo.Query{
		Visibility: access.VisibilityFor(role),
		Window:     access.ResultWindow(role, s.floor),
	}
}

// ListOrders returns every order role may see, newest first.
func (s *Service) ListOrders(ctx context.Context, role access.Role) ([]entity.Order, error) {
	ctx, span := s.start(ctx, "OrderService.ListOrders", role)
	defer span.End()

	orders, err := s.repo.List(ctx, s.query(role))
	if err != nil {
		return nil, s.storageError(span, "failed to list orders", err)
	}
	return orders, nil
}

// ListCustomers groups the visible orders by receiver name and patient number.
func (s *Service) ListCustomers(ctx context.Context, role access.Role) ([]entity.CustomerSummary, error) {
	ctx, span := s.start(ctx, "OrderService.ListCustomers", role)
	defer span.End()

	rows, err := s.repo.Customers(ctx, s.query(role))
	if err != nil {
		return nil, s.storageError(span, "failed to list customers", err)
	}
	return rows, nil
}

// ListOrdersForCustomer returns the visible orders of one patient, newest first.
func (s *Service) ListOrdersForCustomer(ctx context.Context, role access.Role, patientNumber string) ([]entity.Order, error) {
	patientNumber = strings.TrimSpace(patientNumber)
	if patientNumber == "" {
		return nil, errorbank.BadRequest("patient number is required")
	}
	ctx, span := s.start(ctx, "OrderService.ListOrdersForCustomer", role)
	defer span.End()

	q := s.query(role)
	q.PatientNumber = patientNumber
	orders, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, s.storageError(span, "failed to list customer orders", err)
	}
	return orders, nil
}

// ListOrdersByCollectionDate returns the visible orders collected on the UTC
// calendar day containing day, earliest collection first.
func (s *Service) ListOrdersByCollectionDate(ctx context.Context, role access.Role, day time.Time) ([]entity.Order, error) {
	ctx, span := s.start(ctx, "OrderService.ListOrdersByCollectionDate", role)
	defer span.End()

	day = day.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	q := s.query(role)
	q.CollectionFrom, q.CollectionTo = &from, &to
	q.Window.SortBy = access.SortCollectionDate
	q.Window.Descending = false

	orders, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, s.storageError(span, "failed to list orders by collection date", err)
	}
	return orders, nil
}

// ListCollectionDateSummary counts visible orders per UTC collection day.
func (s *Service) ListCollectionDateSummary(ctx context.Context, role access.Role) ([]entity.CollectionDay, error) {
	ctx, span := s.start(ctx, "OrderService.ListCollectionDateSummary", role)
	defer span.End()

	days, err := s.repo.CollectionDays(ctx, s.query(role))
	if err != nil {
		return nil, s.storageError(span, "failed to summarise collection dates", err)
	}
	return days, nil
}

// GetOrder fetches one order and checks that role may read it.
func (s *Service) GetOrder(ctx context.Context, role access.Role, id string) (*entity.Order, error) {
	ctx, span := s.start(ctx, "OrderService.GetOrder", role, attribute.String("order.id", id))
	defer span.End()

	o, err := s.fetch(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(role, o) {
		return nil, s.deny(ctx, span, role, "read")
	}
	return o, nil
}

// UpdateLogisticsStatus sets the operator's status track.
func (s *Service) UpdateLogisticsStatus(ctx context.Context, role access.Role, id, status string) (*entity.Order, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, errorbank.BadRequest("status is required")
	}
	return s.update(ctx, role, id, access.FieldLogisticsStatus, EventLogisticsStatusUpdated, status,
		repo.Update{LogisticsStatus: &status})
}

// UpdatePharmacyStatus sets the owning pharmacy's status track.
func (s *Service) UpdatePharmacyStatus(ctx context.Context, role access.Role, id, status string) (*entity.Order, error) {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil, errorbank.BadRequest("status is required")
	}
	return s.update(ctx, role, id, access.FieldPharmacyStatus, EventPharmacyStatusUpdated, status,
		repo.Update{PharmacyStatus: &status})
}

// CollectionDateChange describes a collection date update. A nil Date clears
// the date and resets the collection status to Status, or "pending".
type CollectionDateChange struct {
	Date   *time.Time
	Status string
}

// UpdateCollectionDate schedules or clears the collection date.
func (s *Service) UpdateCollectionDate(ctx context.Context, role access.Role, id string, change CollectionDateChange) (*entity.Order, error) {
	u := repo.Update{}
	var value any
	if change.Date == nil {
		var cleared *time.Time
		status := strings.TrimSpace(change.Status)
		if status == "" {
			status = entity.StatusPending
		}
		u.CollectionDate = &cleared
		u.CollectionStatus = &status
	} else {
		date := change.Date.UTC()
		datePtr := &date
		u.CollectionDate = &datePtr
		value = date
	}
	return s.update(ctx, role, id, access.FieldCollectionDate, EventCollectionDateUpdated, value, u)
}

func (s *Service) update(ctx context.Context, role access.Role, id string, field access.Field, eventType string, value any, u repo.Update) (*entity.Order, error) {
	ctx, span := s.start(ctx, "OrderService.Update", role,
		attribute.String("order.id", id), attribute.String("order.field", string(field)))
	defer span.End()

	o, err := s.fetch(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(role, o, field) {
		return nil, s.deny(ctx, span, role, string(field))
	}

	u.UpdatedAt = s.now()
	updated, err := s.repo.Update(ctx, id, u)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound(msgNotFound)
		}
		return nil, s.storageError(span, "failed to update order", err)
	}

	s.publish(ctx, OrderEvent{Type: eventType, OrderID: id, Role: role.String(), Field: string(field), Value: value, At: u.UpdatedAt})
	return updated, nil
}

// LogInput is an operator note.
type LogInput struct {
	Note      string
	Category  string
	CreatedBy string
}

// AppendLog adds an operator note to the order's log.
func (s *Service) AppendLog(ctx context.Context, role access.Role, id string, in LogInput) (*entity.LogEntry, error) {
	in.Note, in.Category, in.CreatedBy = strings.TrimSpace(in.Note), strings.TrimSpace(in.Category), strings.TrimSpace(in.CreatedBy)
	if in.Note == "" || in.Category == "" || in.CreatedBy == "" {
		return nil, errorbank.BadRequest("note, category and createdBy are required")
	}

	ctx, span := s.start(ctx, "OrderService.AppendLog", role, attribute.String("order.id", id))
	defer span.End()

	o, err := s.fetch(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(role, o, access.FieldLogs) {
		return nil, s.deny(ctx, span, role, string(access.FieldLogs))
	}

	entry := entity.LogEntry{OrderID: id, Note: in.Note, Category: in.Category, CreatedBy: in.CreatedBy, CreatedAt: s.now()}
	if err := s.repo.AppendLog(ctx, id, entry); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound(msgNotFound)
		}
		return nil, s.storageError(span, "failed to append log", err)
	}

	s.publish(ctx, OrderEvent{Type: EventLogAppended, OrderID: id, Role: role.String(), Field: string(access.FieldLogs),
		Value: entry.Note, Actor: entry.CreatedBy, At: entry.CreatedAt})
	return &entry, nil
}

// RemarkInput is a pharmacy note.
type RemarkInput struct {
	Remark    string
	CreatedBy string
}

// AppendRemark adds a pharmacy note to the order's remarks.
func (s *Service) AppendRemark(ctx context.Context, role access.Role, id string, in RemarkInput) (*entity.Remark, error) {
	in.Remark, in.CreatedBy = strings.TrimSpace(in.Remark), strings.TrimSpace(in.CreatedBy)
	if in.Remark == "" || in.CreatedBy == "" {
		return nil, errorbank.BadRequest("remark and createdBy are required")
	}

	ctx, span := s.start(ctx, "OrderService.AppendRemark", role, attribute.String("order.id", id))
	defer span.End()

	o, err := s.fetch(ctx, span, id)
	if err != nil {
		return nil, err
	}
	if !access.CanWrite(role, o, access.FieldRemarks) {
		return nil, s.deny(ctx, span, role, string(access.FieldRemarks))
	}

	remark := entity.Remark{OrderID: id, Remark: in.Remark, CreatedBy: in.CreatedBy, CreatedAt: s.now()}
	if err := s.repo.AppendRemark(ctx, id, remark); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound(msgNotFound)
		}
		return nil, s.storageError(span, "failed to append remark", err)
	}

	s.publish(ctx, OrderEvent{Type: EventRemarkAppended, OrderID: id, Role: role.String(), Field: string(access.FieldRemarks),
		Value: remark.Remark, Actor: remark.CreatedBy, At: remark.CreatedAt})
	return &remark, nil
}

// TrackingView pairs an order with the tracker's live data. Degraded is set
// when the tracker could not be consulted; the order is still returned.
type TrackingView struct {
	Order    *entity.Order   `json:"order"`
	Tracking json.RawMessage `json:"tracking"`
	Degraded bool            `json:"degraded"`
	Reason   string          `json:"reason,omitempty"`
}

// Tracking reads an order like GetOrder and enriches it with tracker data.
func (s *Service) Tracking(ctx context.Context, role access.Role, id string) (*TrackingView, error) {
	o, err := s.GetOrder(ctx, role, id)
	if err != nil {
		return nil, err
	}

	view := &TrackingView{Order: o}
	if o.DoTrackingNumber == "" {
		view.Degraded, view.Reason = true, "order has no tracking number"
		return view, nil
	}
	if s.tracker == nil {
		view.Degraded, view.Reason = true, "tracking lookup disabled"
		return view, nil
	}

	payload, err := s.tracker.Lookup(ctx, o.DoTrackingNumber)
	switch {
	case errors.Is(err, tracking.ErrDisabled):
		view.Degraded, view.Reason = true, "tracking lookup disabled"
	case err != nil:
		s.logger.Warn("tracking lookup failed", zap.String("order_id", id), zap.Error(err))
		view.Degraded, view.Reason = true, "tracking service unavailable"
	default:
		view.Tracking = payload
	}
	return view, nil
}

func (s *Service) start(ctx context.Context, name string, role access.Role, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("access.role", role.String()))
	return serviceTracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// fetch loads an order, mapping malformed ids to 400 and missing ones to 404.
func (s *Service) fetch(ctx context.Context, span trace.Span, id string) (*entity.Order, error) {
	if !repo.ValidID(id) {
		return nil, errorbank.BadRequest(msgInvalidID)
	}
	o, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound(msgNotFound)
	}
	if err != nil {
		return nil, s.storageError(span, "failed to load order", err)
	}
	return o, nil
}

func (s *Service) deny(ctx context.Context, span trace.Span, role access.Role, action string) error {
	span.SetStatus(codes.Error, msgAccessDenied)
	if s.denied != nil {
		s.denied.Add(ctx, 1, metric.WithAttributes(
			attribute.String("role", role.String()),
			attribute.String("action", action),
		))
	}
	s.logger.Info("order access denied", zap.String("role", role.String()), zap.String("action", action))
	return errorbank.Forbidden(msgAccessDenied)
}

func (s *Service) storageError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "repository error")
	s.logger.Error(msg, zap.Error(err))
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

func (s *Service) publish(ctx context.Context, event OrderEvent) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event.ID = uuid.NewString()
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	env := messaging.Envelope{
		Key:   []byte(event.OrderID),
		Value: payload,
		Headers: map[string]string{
			messaging.HeaderEventType:   event.Type,
			messaging.HeaderContentType: "application/json",
		},
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.logger.Error("publish order event", zap.String("type", event.Type), zap.Error(err))
	}
}
