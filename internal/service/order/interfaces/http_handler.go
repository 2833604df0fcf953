package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"flashmart/internal/pkg/bootstrap"
	"flashmart/internal/pkg/logger"
	accountdomain "flashmart/internal/service/account/domain"
	inventorydomain "flashmart/internal/service/inventory/domain"
	"flashmart/internal/service/order/application"
	"flashmart/internal/service/order/domain"
	promotiondomain "flashmart/internal/service/promotion/domain"
)

const serviceName = "order-service"

// OrderHandler 封装了订单服务的 HTTP 处理器。
type OrderHandler struct {
	service *application.OrderApplicationService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例。
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/create_order", h.createOrderHandler)
	mux.HandleFunc("/cancel_order", h.cancelOrderHandler)
	mux.HandleFunc("/claim_coupon", h.claimCouponHandler)
	mux.HandleFunc("/orders", h.listOrdersHandler)
	mux.HandleFunc("/order", h.getOrderHandler)
	mux.HandleFunc("/failed_compensations", h.failedCompensationsHandler)
}

// statusFor 把领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, accountdomain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, inventorydomain.ErrOptionNotFound),
		errors.Is(err, accountdomain.ErrUserNotFound),
		errors.Is(err, promotiondomain.ErrCouponNotFound),
		errors.Is(err, promotiondomain.ErrUserCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventorydomain.ErrVersionConflict),
		errors.Is(err, domain.ErrDuplicateOrder),
		errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, inventorydomain.ErrInsufficientStock),
		errors.Is(err, accountdomain.ErrInsufficientBalance),
		errors.Is(err, promotiondomain.ErrCouponUnavailable),
		errors.Is(err, promotiondomain.ErrCouponAlreadyUsed),
		errors.Is(err, promotiondomain.ErrCouponNotEligible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func (h *OrderHandler) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.CreateOrder")
	defer span.End()

	var cmd application.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		span.RecordError(err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.Int64("user.id", cmd.UserID),
		attribute.Int("items.count", len(cmd.Items)),
		attribute.Bool("order.with_coupon", cmd.UserCouponID != ""),
	)

	result, err := h.service.CreateOrder(ctx, cmd)
	if err != nil {
		// 失败也返回结构化结果：订单号 + 原因码，状态码按错误分类
		writeJSON(w, statusFor(err), result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.CancelOrder")
	defer span.End()

	var req struct {
		OrderID string `json:"orderId"`
		UserID  int64  `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	result, err := h.service.CancelOrder(ctx, req.OrderID, req.UserID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) claimCouponHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !bootstrap.GetCurrentConfig().App.FeatureFlags.EnableCouponClaim {
		http.Error(w, "coupon claiming is disabled", http.StatusForbidden)
		return
	}

	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "api.ClaimCoupon")
	defer span.End()

	var req struct {
		CouponID int64 `json:"couponId"`
		UserID   int64 `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.Int64("coupon.id", req.CouponID),
		attribute.Int64("user.id", req.UserID),
	)

	userCoupon, err := h.service.ClaimCoupon(ctx, req.CouponID, req.UserID)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Int64("coupon_id", req.CouponID).Msg("coupon claim rejected")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userCouponId": userCoupon.ID,
		"couponId":     userCoupon.CouponID,
		"status":       userCoupon.Status,
	})
}

func (h *OrderHandler) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		http.Error(w, "orderId is required", http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	orders, err := h.service.ListOrders(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) failedCompensationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	failed, err := h.service.ListFailedCompensations(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}
