package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/labstack/echo/v4"

	"github.com/cartstream/storefront/internal/domain/coupon"
)

// RedeemCoupon checks a coupon against an order total without consuming it.
// Unknown and inactive codes are reported as 404.
func (h *Handler) RedeemCoupon(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req redeemCouponRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "Malformed request body")
	}
	cp, err := h.coupons.Redeem(c.Request().Context(), p, strings.TrimSpace(req.Code), req.OrderTotal)
	if err != nil {
		var invalid *coupon.InvalidError
		if errors.As(err, &invalid) && (invalid.Reason == coupon.ReasonNotFound || invalid.Reason == coupon.ReasonInactive) {
			e := newAPIError(http.StatusNotFound, invalid.Message())
			e.Reason = string(invalid.Reason)
			e.cause = err
			return e
		}
		return err
	}
	return c.JSON(http.StatusOK, toCoupon(cp))
}

// GetCoupon returns an active coupon by code.
func (h *Handler) GetCoupon(c echo.Context) error {
	cp, err := h.coupons.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCoupon(cp))
}

// ListCoupons lists the caller's coupons, or all of them for an admin.
func (h *Handler) ListCoupons(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	cs, err := h.coupons.List(c.Request().Context(), p)
	if err != nil {
		return err
	}
	out := make([]couponResponse, len(cs))
	for i := range cs {
		out[i] = toCoupon(&cs[i])
	}
	return c.JSON(http.StatusOK, out)
}

// CreateCoupon stores a new coupon owned by the caller.
func (h *Handler) CreateCoupon(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req createCouponRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "Malformed request body")
	}
	cp, err := h.coupons.Create(c.Request().Context(), p, req.toDomain())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toCoupon(cp))
}

// ToggleCoupon flips a coupon between active and inactive.
func (h *Handler) ToggleCoupon(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	cp, err := h.coupons.Toggle(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	msg := "Coupon disabled"
	if cp.Active {
		msg = "Coupon enabled"
	}
	return c.JSON(http.StatusOK, toggleCouponResponse{Message: msg, Coupon: toCoupon(cp)})
}
