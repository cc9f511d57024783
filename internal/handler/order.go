package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/order"
)

// PlaceOrder creates an order for the calling customer.
func (h *Handler) PlaceOrder(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "Malformed request body")
	}
	o, err := h.orders.Create(c.Request().Context(), p, req.toDomain())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, placeOrderResponse{
		Message: "Order placed successfully",
		OrderID: o.ID,
	})
}

// MyOrders lists the calling customer's orders.
func (h *Handler) MyOrders(c echo.Context) error {
	return h.listOrders(c, h.orders.ListForCustomer)
}

// ShopOwnerOrders lists orders containing the calling shop owner's items.
func (h *Handler) ShopOwnerOrders(c echo.Context) error {
	return h.listOrders(c, h.orders.ListForShopOwner)
}

// AdminOrders lists every order.
func (h *Handler) AdminOrders(c echo.Context) error {
	return h.listOrders(c, h.orders.ListAll)
}

func (h *Handler) listOrders(c echo.Context, list func(context.Context, auth.Principal) ([]order.View, error)) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	views, err := list(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toOrders(views))
}

// Invoice returns the invoice of one of the calling customer's orders.
func (h *Handler) Invoice(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.orders.Invoice(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInvoice(inv))
}

// UpdateOrderStatus moves an order along its lifecycle.
func (h *Handler) UpdateOrderStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return newAPIError(http.StatusBadRequest, "Malformed request body")
	}
	msg, err := h.orders.UpdateStatus(c.Request().Context(), p, id, order.UpdateStatusRequest{
		Status:         order.Status(req.Status),
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msg})
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		e := newAPIError(http.StatusBadRequest, "Invalid "+name)
		e.Reason = name
		return 0, e
	}
	return id, nil
}
