package handler

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
)

// OrderService is the order lifecycle used by the HTTP surface.
type OrderService interface {
	Create(ctx context.Context, p auth.Principal, req order.CreateRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, p auth.Principal, orderID int64, req order.UpdateStatusRequest) (string, error)
	ListForCustomer(ctx context.Context, p auth.Principal) ([]order.View, error)
	ListForShopOwner(ctx context.Context, p auth.Principal) ([]order.View, error)
	ListAll(ctx context.Context, p auth.Principal) ([]order.View, error)
	Invoice(ctx context.Context, p auth.Principal, orderID int64) (*order.Invoice, error)
}

// CouponService is the coupon redemption and management surface.
type CouponService interface {
	Redeem(ctx context.Context, p auth.Principal, code string, orderTotal decimal.Decimal) (*coupon.Coupon, error)
	Lookup(ctx context.Context, code string) (*coupon.Coupon, error)
	Create(ctx context.Context, p auth.Principal, req coupon.CreateRequest) (*coupon.Coupon, error)
	List(ctx context.Context, p auth.Principal) ([]coupon.Coupon, error)
	Toggle(ctx context.Context, p auth.Principal, id int64) (*coupon.Coupon, error)
}

// NotificationService serves the caller's in-app notifications.
type NotificationService interface {
	List(ctx context.Context, p auth.Principal) ([]notify.Notification, error)
	MarkRead(ctx context.Context, p auth.Principal, id int64) error
	MarkAllRead(ctx context.Context, p auth.Principal) (int64, error)
}

var (
	_ OrderService        = (*order.Service)(nil)
	_ CouponService       = (*coupon.Service)(nil)
	_ NotificationService = (*notify.Service)(nil)
)

// Handler serves the storefront API, delegating business logic to the
// domain services.
type Handler struct {
	orders        OrderService
	coupons       CouponService
	notifications NotificationService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders OrderService,
	coupons CouponService,
	notifications NotificationService,
) *Handler {
	return &Handler{
		orders:        orders,
		coupons:       coupons,
		notifications: notifications,
	}
}

// Register mounts every API route on e. All routes require a bearer token
// verified by sec.
func (h *Handler) Register(e *echo.Echo, sec *SecurityHandler) {
	g := e.Group("", sec.Authenticate)

	g.POST("/orders", h.PlaceOrder)
	g.POST("/orders/", h.PlaceOrder)
	g.GET("/orders/me", h.MyOrders)
	g.GET("/orders/:id/invoice", h.Invoice)

	g.GET("/shop-owner/orders", h.ShopOwnerOrders)
	g.PUT("/shop-owner/orders/:id/status", h.UpdateOrderStatus)
	g.GET("/admin/orders", h.AdminOrders)
	g.PUT("/admin/orders/:id", h.UpdateOrderStatus)

	g.POST("/coupons/redeem", h.RedeemCoupon)
	g.GET("/coupons/:code", h.GetCoupon)
	for _, prefix := range []string{"/shop-owner/coupons", "/admin/coupons"} {
		g.GET(prefix, h.ListCoupons)
		g.POST(prefix, h.CreateCoupon)
		g.PATCH(prefix+"/:id/toggle", h.ToggleCoupon)
	}

	g.GET("/notifications", h.ListNotifications)
	g.PUT("/notifications/mark-all-read", h.MarkAllNotificationsRead)
	g.PUT("/notifications/:id/read", h.MarkNotificationRead)
}
