package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
)

var testSecret = []byte("test-secret")

// --- Mock implementations ---

type mockUsers map[int64]auth.User

func (m mockUsers) GetUser(_ context.Context, id int64) (*auth.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

type mockOrderService struct {
	lastCreate order.CreateRequest
	lastStatus order.UpdateStatusRequest
	lastID     int64
	caller     auth.Principal
	created    *order.Order
	views      []order.View
	invoice    *order.Invoice
	err        error
}

func (m *mockOrderService) Create(_ context.Context, p auth.Principal, req order.CreateRequest) (*order.Order, error) {
	m.caller, m.lastCreate = p, req
	return m.created, m.err
}

func (m *mockOrderService) UpdateStatus(_ context.Context, p auth.Principal, id int64, req order.UpdateStatusRequest) (string, error) {
	m.caller, m.lastID, m.lastStatus = p, id, req
	if m.err != nil {
		return "", m.err
	}
	return "Order " + strconv.FormatInt(id, 10) + " status updated to " + string(req.Status), nil
}

func (m *mockOrderService) ListForCustomer(_ context.Context, p auth.Principal) ([]order.View, error) {
	m.caller = p
	return m.views, m.err
}

func (m *mockOrderService) ListForShopOwner(_ context.Context, p auth.Principal) ([]order.View, error) {
	m.caller = p
	return m.views, m.err
}

func (m *mockOrderService) ListAll(_ context.Context, p auth.Principal) ([]order.View, error) {
	m.caller = p
	return m.views, m.err
}

func (m *mockOrderService) Invoice(_ context.Context, p auth.Principal, id int64) (*order.Invoice, error) {
	m.caller, m.lastID = p, id
	return m.invoice, m.err
}

type mockCouponService struct {
	coupon    *coupon.Coupon
	coupons   []coupon.Coupon
	err       error
	lastTotal decimal.Decimal
}

func (m *mockCouponService) Redeem(_ context.Context, _ auth.Principal, _ string, total decimal.Decimal) (*coupon.Coupon, error) {
	m.lastTotal = total
	return m.coupon, m.err
}

func (m *mockCouponService) Lookup(context.Context, string) (*coupon.Coupon, error) {
	return m.coupon, m.err
}

func (m *mockCouponService) Create(_ context.Context, _ auth.Principal, req coupon.CreateRequest) (*coupon.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &coupon.Coupon{ID: 1, Code: req.Code, DiscountType: req.DiscountType, Value: req.Value, Active: req.Active}, nil
}

func (m *mockCouponService) List(context.Context, auth.Principal) ([]coupon.Coupon, error) {
	return m.coupons, m.err
}

func (m *mockCouponService) Toggle(context.Context, auth.Principal, int64) (*coupon.Coupon, error) {
	return m.coupon, m.err
}

type mockNotificationService struct {
	items []notify.Notification
	err   error
}

func (m *mockNotificationService) List(context.Context, auth.Principal) ([]notify.Notification, error) {
	return m.items, m.err
}

func (m *mockNotificationService) MarkRead(context.Context, auth.Principal, int64) error {
	return m.err
}

func (m *mockNotificationService) MarkAllRead(context.Context, auth.Principal) (int64, error) {
	return int64(len(m.items)), m.err
}

// --- Helpers ---

var testUsers = mockUsers{
	1:  {ID: 1, Username: "alice", Email: "alice@example.com", Role: auth.RoleCustomer},
	10: {ID: 10, Username: "tees", Email: "tees@example.com", Role: auth.RoleShopOwner},
	99: {ID: 99, Username: "root", Email: "root@example.com", Role: auth.RoleAdmin},
}

type testServer struct {
	e             *echo.Echo
	orders        *mockOrderService
	coupons       *mockCouponService
	notifications *mockNotificationService
}

func newTestServer() *testServer {
	s := &testServer{
		e:             echo.New(),
		orders:        &mockOrderService{},
		coupons:       &mockCouponService{},
		notifications: &mockNotificationService{},
	}
	s.e.HTTPErrorHandler = ErrorHandler()
	NewHandler(s.orders, s.coupons, s.notifications).
		Register(s.e, NewSecurityHandler(testUsers, testSecret))
	return s
}

func signToken(t *testing.T, secret []byte, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func tokenFor(t *testing.T, userID int64) string {
	return signToken(t, testSecret, strconv.FormatInt(userID, 10), time.Now().Add(time.Hour))
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// --- Tests ---

func TestAuthenticate(t *testing.T) {
	s := newTestServer()
	s.orders.views = []order.View{}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tokenFor(t, 1), http.StatusUnauthorized},
		{"bad signature", "Bearer " + signToken(t, []byte("other"), "1", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "1", time.Now().Add(-time.Minute)), http.StatusUnauthorized},
		{"non numeric subject", "Bearer " + signToken(t, testSecret, "alice", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"unknown user", "Bearer " + tokenFor(t, 42), http.StatusUnauthorized},
		{"valid", "Bearer " + tokenFor(t, 1), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/orders/me", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			s.e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthenticate_RoleFromStoredUser(t *testing.T) {
	s := newTestServer()
	s.orders.views = []order.View{}

	rec := s.do(t, http.MethodGet, "/admin/orders", tokenFor(t, 99), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.RoleAdmin, s.orders.caller.Role)
	assert.Equal(t, int64(99), s.orders.caller.UserID)
}

func TestPlaceOrder(t *testing.T) {
	s := newTestServer()
	s.orders.created = &order.Order{ID: 1001}

	body := `{
		"items": [{"item_id": 100, "variant_id": 101, "quantity": 2}, {"item_id": 200, "quantity": 1}],
		"coupon_code": "SAVE10",
		"shipping_address": {
			"full_name": "Alice", "phone": "555", "address_line1": "1 Main St",
			"city": "Pune", "state": "MH", "postal_code": "411001", "country": "IN",
			"is_default": true
		},
		"shipping_charge": 40.5,
		"transaction_id": "tx-1"
	}`
	rec := s.do(t, http.MethodPost, "/orders/", tokenFor(t, 1), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp placeOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Order placed successfully", resp.Message)
	assert.Equal(t, int64(1001), resp.OrderID)

	req := s.orders.lastCreate
	require.Len(t, req.Items, 2)
	assert.Equal(t, order.LineRequest{ItemID: 100, VariantID: 101, Quantity: 2}, req.Items[0])
	assert.Zero(t, req.Items[1].VariantID)
	require.NotNil(t, req.ShippingAddress)
	assert.Equal(t, "Pune", req.ShippingAddress.City)
	assert.True(t, req.MakeDefaultAddress)
	assert.True(t, decimal.RequireFromString("40.5").Equal(req.ShippingCharge))
	assert.Equal(t, "SAVE10", *req.CouponCode)
	assert.Equal(t, int64(1), s.orders.caller.UserID)
}

func TestPlaceOrder_WithoutTrailingSlash(t *testing.T) {
	s := newTestServer()
	s.orders.created = &order.Order{ID: 7}

	rec := s.do(t, http.MethodPost, "/orders", tokenFor(t, 1), `{"items":[{"item_id":1,"variant_id":2,"quantity":1}],"shipping_address_id":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), *s.orders.lastCreate.ShippingAddressID)
	assert.True(t, s.orders.lastCreate.ShippingCharge.IsZero())
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodPost, "/orders", tokenFor(t, 1), `{"items": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"forbidden", errors.Wrap(auth.ErrForbidden, "role"), http.StatusForbidden, ""},
		{"validation", &order.ValidationError{Field: "items", Reason: "required"}, http.StatusBadRequest, "items"},
		{"out of stock", &order.OutOfStockError{ItemID: 1, VariantID: 2, Requested: 5, Available: 1}, http.StatusBadRequest, "out_of_stock"},
		{"coupon invalid", &coupon.InvalidError{Code: "X", Reason: coupon.ReasonExpired}, http.StatusBadRequest, "expired"},
		{"item missing", &order.NotFoundError{Kind: "item", ID: 5}, http.StatusNotFound, ""},
		{"address missing", errors.Wrap(address.ErrNotFound, "resolve address"), http.StatusNotFound, ""},
		{"contention", coupon.ErrContention, http.StatusConflict, "coupon_contention"},
		{"illegal transition", &order.IllegalTransitionError{From: order.StatusDelivered, To: order.StatusPending}, http.StatusConflict, "illegal_transition"},
		{"persistence", errors.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.orders.err = tt.err

			rec := s.do(t, http.MethodPost, "/orders", tokenFor(t, 1), `{"items":[]}`)
			require.Equal(t, tt.wantCode, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, tt.wantReason, resp.Reason)
		})
	}
}

func TestErrorMapping_HidesInternalErrors(t *testing.T) {
	s := newTestServer()
	s.orders.err = errors.New("pq: password authentication failed")

	rec := s.do(t, http.MethodGet, "/orders/me", tokenFor(t, 1), "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestListOrders(t *testing.T) {
	s := newTestServer()
	s.orders.views = []order.View{{
		Order: order.Order{
			ID:         1001,
			CustomerID: 1,
			Status:     order.StatusPending,
			TotalPrice: decimal.RequireFromString("150.00"),
		},
		CustomerUsername: "alice",
		Lines: []order.LineView{{
			Line:      order.Line{ID: 1, ItemID: 100, VariantID: 101, Quantity: 1, UnitPrice: decimal.NewFromInt(100), LineTotal: decimal.NewFromInt(100)},
			ItemTitle: "Tee",
			OwnerID:   10,
			OwnerName: "tees",
		}},
	}}

	rec := s.do(t, http.MethodGet, "/shop-owner/orders", tokenFor(t, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1001), got[0].ID)
	assert.Equal(t, 150.0, got[0].TotalPrice)
	assert.Equal(t, "pending", got[0].Status)
	require.Len(t, got[0].Items, 1)
	assert.Equal(t, "Tee", got[0].Items[0].ItemTitle)
	assert.Equal(t, 100.0, got[0].Items[0].LineTotalPrice)
	require.NotNil(t, got[0].ShopOwnerName)
	assert.Equal(t, "tees", *got[0].ShopOwnerName)
}

func TestInvoice(t *testing.T) {
	s := newTestServer()
	s.orders.invoice = &order.Invoice{
		OrderID:  1001,
		Status:   order.StatusShipped,
		Subtotal: decimal.NewFromInt(200),
		Discount: decimal.NewFromInt(20),
		Total:    decimal.NewFromInt(180),
	}

	rec := s.do(t, http.MethodGet, "/orders/1001/invoice", tokenFor(t, 1), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1001), s.orders.lastID)

	var got invoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 180.0, got.Total)
	assert.Equal(t, 20.0, got.Discount)

	rec = s.do(t, http.MethodGet, "/orders/abc/invoice", tokenFor(t, 1), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPut, "/shop-owner/orders/1001/status", tokenFor(t, 10), `{"status":"shipped","tracking_number":"TRK1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Order 1001 status updated to shipped", resp.Message)
	assert.Equal(t, order.StatusShipped, s.orders.lastStatus.Status)
	assert.Equal(t, "TRK1", *s.orders.lastStatus.TrackingNumber)

	rec = s.do(t, http.MethodPut, "/admin/orders/1001", tokenFor(t, 99), `{"status":"cancelled"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.StatusCancelled, s.orders.lastStatus.Status)
	assert.Nil(t, s.orders.lastStatus.TrackingNumber)
}

func TestRedeemCoupon(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"not found", &coupon.InvalidError{Code: "NOPE", Reason: coupon.ReasonNotFound}, http.StatusNotFound, "not_found"},
		{"inactive", &coupon.InvalidError{Code: "OFF", Reason: coupon.ReasonInactive}, http.StatusNotFound, "inactive"},
		{"below minimum", &coupon.InvalidError{Code: "MIN", Reason: coupon.ReasonBelowMinimum, Minimum: decimal.NewFromInt(500)}, http.StatusBadRequest, "below_minimum"},
		{"exhausted", &coupon.InvalidError{Code: "ONCE", Reason: coupon.ReasonExhausted}, http.StatusBadRequest, "exhausted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.coupons.err = tt.err

			rec := s.do(t, http.MethodPost, "/coupons/redeem", tokenFor(t, 1), `{"code":"X","order_total":100}`)
			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantReason, decodeError(t, rec).Reason)
		})
	}

	t.Run("valid", func(t *testing.T) {
		s := newTestServer()
		s.coupons.coupon = &coupon.Coupon{ID: 5, Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true}

		rec := s.do(t, http.MethodPost, "/coupons/redeem", tokenFor(t, 1), `{"code":" SAVE10 ","order_total":"250.50"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decimal.RequireFromString("250.50").Equal(s.coupons.lastTotal))

		var got couponResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "SAVE10", got.Code)
		assert.Equal(t, "percentage", got.DiscountType)
		assert.Equal(t, 10.0, got.DiscountValue)
	})
}

func TestCreateCoupon(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/shop-owner/coupons", tokenFor(t, 10), `{"code":"NEW","discount_type":"fixed","discount_value":15}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var got couponResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Active)
	assert.Equal(t, 15.0, got.DiscountValue)

	s.coupons.err = coupon.ErrCodeTaken
	rec = s.do(t, http.MethodPost, "/admin/coupons", tokenFor(t, 99), `{"code":"NEW","discount_type":"fixed","discount_value":15}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.coupons.err = &coupon.ValidationError{Field: "discount_value", Reason: "percentage above 100"}
	rec = s.do(t, http.MethodPost, "/admin/coupons", tokenFor(t, 99), `{"code":"BIG","discount_type":"percentage","discount_value":150}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "discount_value", decodeError(t, rec).Reason)
}

func TestToggleCoupon(t *testing.T) {
	s := newTestServer()

	s.coupons.coupon = &coupon.Coupon{ID: 5, Code: "SAVE10", Active: false}
	rec := s.do(t, http.MethodPatch, "/shop-owner/coupons/5/toggle", tokenFor(t, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got toggleCouponResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Coupon disabled", got.Message)

	s.coupons.coupon = &coupon.Coupon{ID: 5, Code: "SAVE10", Active: true}
	rec = s.do(t, http.MethodPatch, "/admin/coupons/5/toggle", tokenFor(t, 99), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Coupon enabled", got.Message)

	s.coupons.err = errors.Wrap(auth.ErrForbidden, "coupon owned by another user")
	rec = s.do(t, http.MethodPatch, "/shop-owner/coupons/5/toggle", tokenFor(t, 10), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotifications(t *testing.T) {
	s := newTestServer()
	s.notifications.items = []notify.Notification{
		{ID: 2, UserID: 1, Message: "Your order #1001 has been placed successfully. Total: 150.00"},
		{ID: 1, UserID: 1, Message: "older", IsRead: true},
	}

	rec := s.do(t, http.MethodGet, "/notifications", tokenFor(t, 1), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []notificationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.False(t, got[0].IsRead)

	rec = s.do(t, http.MethodPut, "/notifications/mark-all-read", tokenFor(t, 1), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all markAllReadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, int64(2), all.Updated)

	s.notifications.err = notify.ErrNotFound
	rec = s.do(t, http.MethodPut, "/notifications/77/read", tokenFor(t, 1), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Notification not found", decodeError(t, rec).Message)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/nope", tokenFor(t, 1), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeError(t, rec).Code)
}
