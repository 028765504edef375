package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/casca-store/storefront/internal/circuitbreaker"
	"github.com/casca-store/storefront/internal/httpx"
	"github.com/casca-store/storefront/internal/store"
	"github.com/sirupsen/logrus"
)

type BreakerReporter interface {
	AllMetrics() []circuitbreaker.Metrics
}

type ClientCounter interface {
	ClientCount() int
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the admin endpoints. Routes are expected to sit behind
// the admin guard.
type Handler struct {
	orders   store.Queries
	db       Pinger
	analyzer *Analyzer
	breakers BreakerReporter
	clients  ClientCounter
	logger   *logrus.Logger
	now      func() time.Time
}

func NewHandler(orders store.Queries, db Pinger, analyzer *Analyzer, breakers BreakerReporter, clients ClientCounter, logger *logrus.Logger) *Handler {
	return &Handler{
		orders:   orders,
		db:       db,
		analyzer: analyzer,
		breakers: breakers,
		clients:  clients,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDashboard handles GET /api/admin/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	orders, err := h.orders.ListPaidOrdersSince(r.Context(), WindowStart(now))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load paid orders")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to load dashboard")
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, h.analyzer.Summarize(orders, now))
}

// ExportOrders handles GET /api/admin/orders/export.xlsx.
func (h *Handler) ExportOrders(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	orders, err := h.orders.ListPaidOrdersSince(r.Context(), WindowStart(now))
	if err != nil {
		h.logger.WithError(err).Error("Failed to load paid orders for export")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to export orders")
		return
	}

	var buf bytes.Buffer
	if err := WriteOrdersXLSX(&buf, orders); err != nil {
		h.logger.WithError(err).Error("Failed to build orders spreadsheet")
		httpx.RespondWithError(w, http.StatusInternalServerError, "Failed to export orders")
		return
	}

	filename := fmt.Sprintf("orders-%s.xlsx", now.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())

	h.logger.WithField("order_count", len(orders)).Info("Orders exported")
}

// Health handles GET /api/admin/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	database := "up"
	code := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Database health check failed")
		status = "degraded"
		database = "down"
		code = http.StatusServiceUnavailable
	}

	breakers := h.breakers.AllMetrics()
	for _, m := range breakers {
		if m.State == circuitbreaker.StateOpen.String() && status == "healthy" {
			status = "degraded"
		}
	}

	httpx.RespondWithJSON(w, code, map[string]interface{}{
		"status":            status,
		"database":          database,
		"circuit_breakers":  breakers,
		"websocket_clients": h.clients.ClientCount(),
		"timestamp":         h.now().UTC(),
	})
}
