package order

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/presentation/http/response"
	service "github.com/Additional-Code/pharmadesk/internal/service/order"
	"github.com/Additional-Code/pharmadesk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/transport/http/order")

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the role-aware /api group.
func Register(api *echo.Group, h *Handler) {
	api.GET("/orders", h.list)
	api.GET("/orders/collection-dates", h.listByCollectionDate)
	api.GET("/orders/:id", h.getByID)
	api.GET("/orders/:id/tracking", h.tracking)

	api.PUT("/orders/:id/logistics-status", h.updateLogisticsStatus)
	api.PUT("/orders/:id/go-rush-status", h.updateLogisticsStatus)
	api.PUT("/orders/:id/status", h.updateLogisticsStatus)
	api.PUT("/orders/:id/pharmacy-status", h.updatePharmacyStatus)
	api.PUT("/orders/:id/collection-date", h.updateCollectionDate)

	api.POST("/orders/:id/logs", h.appendLog)
	api.POST("/orders/:id/remarks", h.appendRemark)
	api.POST("/orders/:id/pharmacy-remarks", h.appendRemark)

	api.GET("/customers", h.listCustomers)
	api.GET("/customers/:patientNumber/orders", h.listCustomerOrders)
	api.GET("/collection-dates", h.collectionDates)
}

func roleOf(c echo.Context) access.Role {
	return access.FromContext(c.Request().Context())
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)
	orders, err := h.svc.ListOrders(c.Request().Context(), roleOf(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithList(orders, len(orders)).Build()
}

func (h *Handler) listCustomers(c echo.Context) error {
	b := response.New(c)
	customers, err := h.svc.ListCustomers(c.Request().Context(), roleOf(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithList(customers, len(customers)).Build()
}

func (h *Handler) listCustomerOrders(c echo.Context) error {
	b := response.New(c)
	orders, err := h.svc.ListOrdersForCustomer(c.Request().Context(), roleOf(c), c.Param("patientNumber"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithList(orders, len(orders)).Build()
}

func (h *Handler) collectionDates(c echo.Context) error {
	b := response.New(c)
	days, err := h.svc.ListCollectionDateSummary(c.Request().Context(), roleOf(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(days).Build()
}

func (h *Handler) listByCollectionDate(c echo.Context) error {
	b := response.New(c)

	raw := strings.TrimSpace(c.QueryParam("date"))
	if raw == "" {
		return b.WithError(errorbank.BadRequest("date parameter is required")).Build()
	}
	day, err := parseDate(raw)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid date", errorbank.WithCause(err))).Build()
	}

	orders, err := h.svc.ListOrdersByCollectionDate(c.Request().Context(), roleOf(c), day)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithList(orders, len(orders)).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	order, err := h.svc.GetOrder(ctx, roleOf(c), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) tracking(c echo.Context) error {
	b := response.New(c)
	id := c.Param("id")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.tracking", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	view, err := h.svc.Tracking(ctx, roleOf(c), id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

type statusPayload struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateLogisticsStatus(c echo.Context) error {
	b := response.New(c)
	var payload statusPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updateLogisticsStatus", trace.WithAttributes(attribute.String("order.id", c.Param("id"))))
	defer span.End()

	order, err := h.svc.UpdateLogisticsStatus(ctx, roleOf(c), c.Param("id"), payload.Status)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

func (h *Handler) updatePharmacyStatus(c echo.Context) error {
	b := response.New(c)
	var payload statusPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.updatePharmacyStatus", trace.WithAttributes(attribute.String("order.id", c.Param("id"))))
	defer span.End()

	order, err := h.svc.UpdatePharmacyStatus(ctx, roleOf(c), c.Param("id"), payload.Status)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

// nullableString tells a missing JSON field apart from an explicit null.
type nullableString struct {
	Present bool
	Null    bool
	Value   string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Present = true
	if string(data) == "null" {
		n.Null = true
		return nil
	}
	return json.Unmarshal(data, &n.Value)
}

type collectionDatePayload struct {
	CollectionDate   nullableString `json:"collectionDate"`
	CollectionStatus string         `json:"collectionStatus"`
}

func (h *Handler) updateCollectionDate(c echo.Context) error {
	b := response.New(c)
	var payload collectionDatePayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if !payload.CollectionDate.Present {
		return b.WithError(errorbank.BadRequest("missing collectionDate in request body")).Build()
	}

	change := service.CollectionDateChange{Status: payload.CollectionStatus}
	if !payload.CollectionDate.Null && strings.TrimSpace(payload.CollectionDate.Value) != "" {
		date, err := parseDate(payload.CollectionDate.Value)
		if err != nil {
			return b.WithError(errorbank.BadRequest("invalid collectionDate", errorbank.WithCause(err))).Build()
		}
		change.Date = &date
	}

	order, err := h.svc.UpdateCollectionDate(c.Request().Context(), roleOf(c), c.Param("id"), change)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(order).Build()
}

type logPayload struct {
	Note      string `json:"note" validate:"required"`
	Category  string `json:"category" validate:"required"`
	CreatedBy string `json:"createdBy"`
	Author    string `json:"author"`
}

func (h *Handler) appendLog(c echo.Context) error {
	b := response.New(c)
	var payload logPayload
	if err := bindAndValidate(c, &payload); err != nil {
		return b.WithError(err).Build()
	}

	entry, err := h.svc.AppendLog(c.Request().Context(), roleOf(c), c.Param("id"), service.LogInput{
		Note:      payload.Note,
		Category:  payload.Category,
		CreatedBy: firstNonEmpty(payload.CreatedBy, payload.Author),
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(map[string]any{
		"message": "Log added successfully",
		"log":     entry,
	}).Build()
}

type remarkPayload struct {
	Remark    string `json:"remark"`
	Text      string `json:"text"`
	CreatedBy string `json:"createdBy"`
	Author    string `json:"author"`
}

func (h *Handler) appendRemark(c echo.Context) error {
	b := response.New(c)
	var payload remarkPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	remark, err := h.svc.AppendRemark(c.Request().Context(), roleOf(c), c.Param("id"), service.RemarkInput{
		Remark:    firstNonEmpty(payload.Remark, payload.Text),
		CreatedBy: firstNonEmpty(payload.CreatedBy, payload.Author),
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusCreated).WithData(map[string]any{
		"message": "Remark added",
		"remark":  remark,
	}).Build()
}

func bindAndValidate(c echo.Context, payload any) error {
	if err := c.Bind(payload); err != nil {
		return errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
	}
	if err := c.Validate(payload); err != nil {
		return errorbank.BadRequest("missing required fields", errorbank.WithCause(err))
	}
	return nil
}

// parseDate accepts a calendar day or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
