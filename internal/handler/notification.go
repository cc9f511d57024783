package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	ns, err := h.notifications.List(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toNotifications(ns))
}

// MarkNotificationRead marks one of the caller's notifications read.
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.notifications.MarkRead(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Notification marked as read"})
}

// MarkAllNotificationsRead marks every unread notification of the caller
// read.
func (h *Handler) MarkAllNotificationsRead(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	n, err := h.notifications.MarkAllRead(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, markAllReadResponse{
		Message: "All notifications marked as read",
		Updated: n,
	})
}
