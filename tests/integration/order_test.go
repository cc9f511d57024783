//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
)

func homeAddress() *addressRequest {
	return &addressRequest{
		FullName:     "Alice Example",
		Phone:        "+91 98765 43210",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "Karnataka",
		PostalCode:   "560001",
		Country:      "India",
	}
}

func placeOrder(t *testing.T, req orderRequest) placeOrderResponse {
	t.Helper()

	resp := doAs(t, aliceID, http.MethodPost, "/orders/", req)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	out := decodeJSON[placeOrderResponse](t, resp)
	if out.OrderID == 0 {
		t.Fatal("expected a non-zero order id")
	}
	return out
}

func setStatus(t *testing.T, userID int64, path, status string, want int) {
	t.Helper()

	resp := doAs(t, userID, http.MethodPut, path, map[string]string{"status": status})
	defer resp.Body.Close()
	expectStatus(t, resp, want)
}

func findOrder(orders []orderResponse, id int64) *orderResponse {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

func TestPlaceOrder_NoAuth(t *testing.T) {
	resp := do(t, http.MethodPost, "/orders/", orderRequest{
		Items:           []orderItemRequest{{ItemID: toteItem, VariantID: tote, Quantity: 1}},
		ShippingAddress: homeAddress(),
	}, "")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPlaceOrder_InvalidToken(t *testing.T) {
	resp := do(t, http.MethodPost, "/orders/", orderRequest{}, "not-a-jwt")
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestPlaceOrder_ShopOwnerForbidden(t *testing.T) {
	resp := doAs(t, northwindID, http.MethodPost, "/orders/", orderRequest{
		Items:           []orderItemRequest{{ItemID: toteItem, VariantID: tote, Quantity: 1}},
		ShippingAddress: homeAddress(),
	})
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusForbidden)
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		req    orderRequest
		status int
		reason string
	}{
		{
			name:   "empty items",
			req:    orderRequest{ShippingAddress: homeAddress()},
			status: http.StatusBadRequest,
			reason: "items",
		},
		{
			name:   "zero quantity",
			req:    orderRequest{Items: []orderItemRequest{{ItemID: toteItem, VariantID: tote}}, ShippingAddress: homeAddress()},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing address",
			req:    orderRequest{Items: []orderItemRequest{{ItemID: toteItem, VariantID: tote, Quantity: 1}}},
			status: http.StatusBadRequest,
			reason: "shipping_address",
		},
		{
			name:   "unknown variant",
			req:    orderRequest{Items: []orderItemRequest{{ItemID: toteItem, VariantID: 9999, Quantity: 1}}, ShippingAddress: homeAddress()},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown coupon",
			req:    orderRequest{Items: []orderItemRequest{{ItemID: toteItem, VariantID: tote, Quantity: 1}}, ShippingAddress: homeAddress(), CouponCode: "NOPE"},
			status: http.StatusBadRequest,
			reason: "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doAs(t, aliceID, http.MethodPost, "/orders/", tt.req)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.status)

			body := decodeJSON[errorResponse](t, resp)
			if tt.reason != "" && body.Reason != tt.reason {
				t.Errorf("reason: got %q, want %q", body.Reason, tt.reason)
			}
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	placed := placeOrder(t, orderRequest{
		Items: []orderItemRequest{
			{ItemID: linenItem, VariantID: linenWhiteM, Quantity: 2},
			{ItemID: toteItem, VariantID: tote, Quantity: 1},
		},
		CouponCode:      "WELCOME10",
		ShippingAddress: homeAddress(),
	})
	id := placed.OrderID

	// Customer view.
	resp := doAs(t, aliceID, http.MethodGet, "/orders/me", nil)
	expectStatus(t, resp, http.StatusOK)
	mine := decodeJSON[[]orderResponse](t, resp)
	resp.Body.Close()

	o := findOrder(mine, id)
	if o == nil {
		t.Fatalf("order %d not in /orders/me", id)
	}
	if o.Status != "pending" {
		t.Errorf("status: got %q, want pending", o.Status)
	}
	if o.Subtotal != 3097 || o.Discount != 309.7 || o.TotalPrice != 2787.3 {
		t.Errorf("totals: got subtotal=%v discount=%v total=%v", o.Subtotal, o.Discount, o.TotalPrice)
	}
	if len(o.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(o.Items))
	}

	// Invoice.
	resp = doAs(t, aliceID, http.MethodGet, fmt.Sprintf("/orders/%d/invoice", id), nil)
	expectStatus(t, resp, http.StatusOK)
	inv := decodeJSON[invoiceResponse](t, resp)
	resp.Body.Close()
	if inv.OrderID != id || inv.Total != 2787.3 || inv.CustomerName != "alice" {
		t.Errorf("invoice: got %+v", inv)
	}

	// Shop owner scoping.
	resp = doAs(t, northwindID, http.MethodGet, "/shop-owner/orders", nil)
	expectStatus(t, resp, http.StatusOK)
	if findOrder(decodeJSON[[]orderResponse](t, resp), id) == nil {
		t.Errorf("order %d not visible to its shop owner", id)
	}
	resp.Body.Close()

	resp = doAs(t, bluebirdID, http.MethodGet, "/shop-owner/orders", nil)
	expectStatus(t, resp, http.StatusOK)
	if findOrder(decodeJSON[[]orderResponse](t, resp), id) != nil {
		t.Errorf("order %d visible to an unrelated shop owner", id)
	}
	resp.Body.Close()

	// Transitions.
	ownerPath := fmt.Sprintf("/shop-owner/orders/%d/status", id)
	setStatus(t, bluebirdID, ownerPath, "processing", http.StatusForbidden)
	setStatus(t, northwindID, ownerPath, "processing", http.StatusOK)
	setStatus(t, northwindID, ownerPath, "processing", http.StatusOK)
	setStatus(t, northwindID, ownerPath, "pending", http.StatusConflict)
	setStatus(t, northwindID, ownerPath, "lost", http.StatusBadRequest)

	resp = doAs(t, adminID, http.MethodPut, fmt.Sprintf("/admin/orders/%d", id), map[string]string{
		"status":          "shipped",
		"tracking_number": "TRK-1001",
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doAs(t, adminID, http.MethodGet, "/admin/orders", nil)
	expectStatus(t, resp, http.StatusOK)
	all := decodeJSON[[]orderResponse](t, resp)
	resp.Body.Close()

	o = findOrder(all, id)
	if o == nil {
		t.Fatalf("order %d not in /admin/orders", id)
	}
	if o.Status != "shipped" || o.TrackingNumber == nil || *o.TrackingNumber != "TRK-1001" {
		t.Errorf("admin view: status=%q tracking=%v", o.Status, o.TrackingNumber)
	}

	// Customers cannot use the management routes.
	setStatus(t, aliceID, fmt.Sprintf("/admin/orders/%d", id), "delivered", http.StatusForbidden)
}

func TestInvoice_NotFound(t *testing.T) {
	resp := doAs(t, aliceID, http.MethodGet, "/orders/999999/invoice", nil)
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusNotFound)
}

func TestCancelRestoresStock(t *testing.T) {
	first := placeOrder(t, orderRequest{
		Items:           []orderItemRequest{{ItemID: mugItem, VariantID: mugSand, Quantity: 2}},
		ShippingAddress: homeAddress(),
	})

	resp := doAs(t, aliceID, http.MethodPost, "/orders/", orderRequest{
		Items:           []orderItemRequest{{ItemID: mugItem, VariantID: mugSand, Quantity: 1}},
		ShippingAddress: homeAddress(),
	})
	expectStatus(t, resp, http.StatusBadRequest)
	if body := decodeJSON[errorResponse](t, resp); body.Reason != "out_of_stock" {
		t.Errorf("reason: got %q, want out_of_stock", body.Reason)
	}
	resp.Body.Close()

	setStatus(t, adminID, fmt.Sprintf("/admin/orders/%d", first.OrderID), "cancelled", http.StatusOK)

	placeOrder(t, orderRequest{
		Items:           []orderItemRequest{{ItemID: mugItem, VariantID: mugSand, Quantity: 1}},
		ShippingAddress: homeAddress(),
	})
}

func TestCouponUsageLimit(t *testing.T) {
	req := orderRequest{
		Items:           []orderItemRequest{{ItemID: toteItem, VariantID: tote, Quantity: 1}},
		CouponCode:      "ONCE",
		ShippingAddress: homeAddress(),
	}
	placeOrder(t, req)

	resp := doAs(t, aliceID, http.MethodPost, "/orders/", req)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusBadRequest)

	if body := decodeJSON[errorResponse](t, resp); body.Reason != "exhausted" {
		t.Errorf("reason: got %q, want exhausted", body.Reason)
	}
}
