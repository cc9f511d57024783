package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// apiError is an error that already carries its HTTP representation.
type apiError struct {
	errorResponse
	cause error
}

func (e *apiError) Error() string { return e.Message }

func (e *apiError) Unwrap() error { return e.cause }

func newAPIError(code int, msg string) *apiError {
	return &apiError{errorResponse: errorResponse{Code: code, Message: msg}}
}

var errUnauthorized = newAPIError(http.StatusUnauthorized, "Could not validate credentials")

// mapError converts a domain error into its HTTP representation. Unknown
// errors map to 500.
func mapError(err error) *apiError {
	var (
		apiErr     *apiError
		httpErr    *echo.HTTPError
		notFound   *order.NotFoundError
		validation *order.ValidationError
		couponVal  *coupon.ValidationError
		stock      *order.OutOfStockError
		invalid    *coupon.InvalidError
		transition *order.IllegalTransitionError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &httpErr):
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			msg = s
		}
		return newAPIError(httpErr.Code, msg)
	case errors.Is(err, auth.ErrForbidden):
		return newAPIError(http.StatusForbidden, "Not enough permissions")
	case errors.As(err, &notFound):
		return newAPIError(http.StatusNotFound, notFound.Error())
	case errors.Is(err, order.ErrOrderNotFound):
		return newAPIError(http.StatusNotFound, "Order not found")
	case errors.Is(err, address.ErrNotFound):
		return newAPIError(http.StatusNotFound, "Address not found")
	case errors.Is(err, coupon.ErrNotFound):
		return newAPIError(http.StatusNotFound, "Coupon not found")
	case errors.Is(err, notify.ErrNotFound):
		return newAPIError(http.StatusNotFound, "Notification not found")
	case errors.As(err, &validation):
		e := newAPIError(http.StatusBadRequest, validation.Error())
		e.Reason = validation.Field
		return e
	case errors.As(err, &couponVal):
		e := newAPIError(http.StatusBadRequest, couponVal.Error())
		e.Reason = couponVal.Field
		return e
	case errors.As(err, &stock):
		e := newAPIError(http.StatusBadRequest, stock.Error())
		e.Reason = "out_of_stock"
		return e
	case errors.As(err, &invalid):
		e := newAPIError(http.StatusBadRequest, invalid.Message())
		e.Reason = string(invalid.Reason)
		return e
	case errors.Is(err, coupon.ErrContention):
		e := newAPIError(http.StatusConflict, "Coupon was used concurrently, please retry")
		e.Reason = "coupon_contention"
		return e
	case errors.As(err, &transition):
		e := newAPIError(http.StatusConflict, transition.Error())
		e.Reason = "illegal_transition"
		return e
	case errors.Is(err, coupon.ErrCodeTaken):
		return newAPIError(http.StatusConflict, "Coupon code already exists")
	default:
		return newAPIError(http.StatusInternalServerError, "Internal server error")
	}
}

// ErrorHandler returns the echo error handler rendering errors as JSON.
// Server errors are logged with the request logger.
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		resp := mapError(err)
		if resp.Code >= http.StatusInternalServerError {
			zctx.From(c.Request().Context()).Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.Code)
		} else {
			err = c.JSON(resp.Code, resp.errorResponse)
		}
		if err != nil {
			zctx.From(c.Request().Context()).Warn("Write error response", zap.Error(err))
		}
	}
}
