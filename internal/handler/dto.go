package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/domain/order"
)

// --- Requests ---

type orderItemRequest struct {
	ItemID    int64  `json:"item_id"`
	VariantID *int64 `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type addressRequest struct {
	FullName     string  `json:"full_name"`
	Phone        string  `json:"phone"`
	AddressLine1 string  `json:"address_line1"`
	AddressLine2 *string `json:"address_line2"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	PostalCode   string  `json:"postal_code"`
	Country      string  `json:"country"`
	IsDefault    bool    `json:"is_default"`
}

type createOrderRequest struct {
	Items             []orderItemRequest  `json:"items"`
	CouponCode        *string             `json:"coupon_code"`
	ShippingAddress   *addressRequest     `json:"shipping_address"`
	ShippingAddressID *int64              `json:"shipping_address_id"`
	ShippingCharge    decimal.NullDecimal `json:"shipping_charge"`
	TransactionID     *string             `json:"transaction_id"`
}

func (r createOrderRequest) toDomain() order.CreateRequest {
	req := order.CreateRequest{
		Items:             make([]order.LineRequest, len(r.Items)),
		CouponCode:        r.CouponCode,
		ShippingAddressID: r.ShippingAddressID,
		ShippingCharge:    r.ShippingCharge.Decimal,
		TransactionID:     r.TransactionID,
	}
	for i, it := range r.Items {
		req.Items[i] = order.LineRequest{ItemID: it.ItemID, Quantity: it.Quantity}
		// A missing variant stays zero and is rejected by validation.
		if it.VariantID != nil {
			req.Items[i].VariantID = *it.VariantID
		}
	}
	if a := r.ShippingAddress; a != nil {
		req.ShippingAddress = &address.Fields{
			FullName:     a.FullName,
			Phone:        a.Phone,
			AddressLine1: a.AddressLine1,
			AddressLine2: a.AddressLine2,
			City:         a.City,
			State:        a.State,
			PostalCode:   a.PostalCode,
			Country:      a.Country,
		}
		req.MakeDefaultAddress = a.IsDefault
	}
	return req
}

type updateStatusRequest struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"tracking_number"`
}

type redeemCouponRequest struct {
	Code       string          `json:"code"`
	OrderTotal decimal.Decimal `json:"order_total"`
}

type createCouponRequest struct {
	Code           string              `json:"code"`
	Description    *string             `json:"description"`
	DiscountType   string              `json:"discount_type"`
	DiscountValue  decimal.Decimal     `json:"discount_value"`
	Active         *bool               `json:"active"`
	StartAt        *time.Time          `json:"start_at"`
	EndAt          *time.Time          `json:"end_at"`
	MinOrderAmount decimal.NullDecimal `json:"min_order_amount"`
	MaxUses        int                 `json:"max_uses"`
}

func (r createCouponRequest) toDomain() coupon.CreateRequest {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return coupon.CreateRequest{
		Code:           r.Code,
		Description:    r.Description,
		DiscountType:   coupon.DiscountType(r.DiscountType),
		Value:          r.DiscountValue,
		Active:         active,
		StartAt:        r.StartAt,
		EndAt:          r.EndAt,
		MinOrderAmount: r.MinOrderAmount,
		MaxUses:        r.MaxUses,
	}
}

// --- Responses ---

type messageResponse struct {
	Message string `json:"message"`
}

type placeOrderResponse struct {
	Message string `json:"message"`
	OrderID int64  `json:"order_id"`
}

type addressResponse struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	FullName     string    `json:"full_name"`
	Phone        string    `json:"phone"`
	AddressLine1 string    `json:"address_line1"`
	AddressLine2 *string   `json:"address_line2"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	PostalCode   string    `json:"postal_code"`
	Country      string    `json:"country"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAddress(a *address.Address) *addressResponse {
	if a == nil {
		return nil
	}
	return &addressResponse{
		ID:           a.ID,
		UserID:       a.UserID,
		FullName:     a.Fields.FullName,
		Phone:        a.Fields.Phone,
		AddressLine1: a.Fields.AddressLine1,
		AddressLine2: a.Fields.AddressLine2,
		City:         a.Fields.City,
		State:        a.Fields.State,
		PostalCode:   a.Fields.PostalCode,
		Country:      a.Fields.Country,
		IsDefault:    a.IsDefault,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type orderLineResponse struct {
	ID             int64    `json:"id"`
	ItemID         int64    `json:"item_id"`
	VariantID      int64    `json:"variant_id"`
	Quantity       int      `json:"quantity"`
	ItemTitle      string   `json:"item_title"`
	ImageURL       *string  `json:"image_url"`
	UnitPrice      float64  `json:"unit_price"`
	LineTotalPrice float64  `json:"line_total_price"`
	ShopOwnerName  string   `json:"shop_owner_name"`
	ItemOwnerID    int64    `json:"item_owner_id"`
	VariantColor   *string  `json:"variant_color"`
	VariantSize    *string  `json:"variant_size"`
	VariantPrice   *float64 `json:"variant_price"`
}

func toOrderLines(ls []order.LineView) []orderLineResponse {
	out := make([]orderLineResponse, len(ls))
	for i, l := range ls {
		out[i] = orderLineResponse{
			ID:             l.ID,
			ItemID:         l.ItemID,
			VariantID:      l.VariantID,
			Quantity:       l.Quantity,
			ItemTitle:      l.ItemTitle,
			ImageURL:       l.ImageURL,
			UnitPrice:      l.UnitPrice.InexactFloat64(),
			LineTotalPrice: l.LineTotal.InexactFloat64(),
			ShopOwnerName:  l.OwnerName,
			ItemOwnerID:    l.OwnerID,
			VariantColor:   l.VariantColor,
			VariantSize:    l.VariantSize,
		}
		if l.VariantPrice.Valid {
			p := l.VariantPrice.Decimal.InexactFloat64()
			out[i].VariantPrice = &p
		}
	}
	return out
}

type orderResponse struct {
	ID               int64               `json:"id"`
	CustomerID       int64               `json:"customer_id"`
	CustomerUsername string              `json:"customer_username"`
	ShopOwnerName    *string             `json:"shop_owner_name"`
	Status           string              `json:"status"`
	OrderDate        time.Time           `json:"order_date"`
	Items            []orderLineResponse `json:"items"`
	CouponCode       *string             `json:"coupon_code"`
	Subtotal         float64             `json:"subtotal"`
	Discount         float64             `json:"discount"`
	ShippingCharge   float64             `json:"shipping_charge"`
	TotalPrice       float64             `json:"total_price"`
	TransactionID    *string             `json:"transaction_id"`
	TrackingNumber   *string             `json:"tracking_number"`
	ShippingAddress  *addressResponse    `json:"shipping_address"`
}

func toOrders(vs []order.View) []orderResponse {
	out := make([]orderResponse, len(vs))
	for i, v := range vs {
		o := v.Order
		out[i] = orderResponse{
			ID:               o.ID,
			CustomerID:       o.CustomerID,
			CustomerUsername: v.CustomerUsername,
			Status:           string(o.Status),
			OrderDate:        o.OrderDate,
			Items:            toOrderLines(v.Lines),
			CouponCode:       o.CouponCode,
			Subtotal:         o.Subtotal.InexactFloat64(),
			Discount:         o.Discount.InexactFloat64(),
			ShippingCharge:   o.ShippingCharge.InexactFloat64(),
			TotalPrice:       o.TotalPrice.InexactFloat64(),
			TransactionID:    o.TransactionID,
			TrackingNumber:   o.TrackingNumber,
			ShippingAddress:  toAddress(v.ShippingAddress),
		}
		if len(v.Lines) > 0 {
			name := v.Lines[0].OwnerName
			out[i].ShopOwnerName = &name
		}
	}
	return out
}

type invoiceResponse struct {
	OrderID         int64               `json:"order_id"`
	OrderDate       time.Time           `json:"order_date"`
	Status          string              `json:"status"`
	CustomerName    string              `json:"customer_name"`
	ShippingAddress *addressResponse    `json:"shipping_address"`
	Items           []orderLineResponse `json:"items"`
	Subtotal        float64             `json:"subtotal"`
	Discount        float64             `json:"discount"`
	ShippingCharge  float64             `json:"shipping_charge"`
	Total           float64             `json:"total"`
	CouponCode      *string             `json:"coupon_code"`
	TransactionID   *string             `json:"transaction_id"`
	TrackingNumber  *string             `json:"tracking_number"`
}

func toInvoice(inv *order.Invoice) invoiceResponse {
	return invoiceResponse{
		OrderID:         inv.OrderID,
		OrderDate:       inv.OrderDate,
		Status:          string(inv.Status),
		CustomerName:    inv.CustomerName,
		ShippingAddress: toAddress(inv.ShippingAddress),
		Items:           toOrderLines(inv.Lines),
		Subtotal:        inv.Subtotal.InexactFloat64(),
		Discount:        inv.Discount.InexactFloat64(),
		ShippingCharge:  inv.ShippingCharge.InexactFloat64(),
		Total:           inv.Total.InexactFloat64(),
		CouponCode:      inv.CouponCode,
		TransactionID:   inv.TransactionID,
		TrackingNumber:  inv.TrackingNumber,
	}
}

type couponResponse struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	Description    *string    `json:"description"`
	DiscountType   string     `json:"discount_type"`
	DiscountValue  float64    `json:"discount_value"`
	Active         bool       `json:"active"`
	StartAt        *time.Time `json:"start_at"`
	EndAt          *time.Time `json:"end_at"`
	MinOrderAmount *float64   `json:"min_order_amount"`
	MaxUses        int        `json:"max_uses"`
	UsedCount      int        `json:"used_count"`
	CreatedBy      *int64     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toCoupon(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		ID:            c.ID,
		Code:          c.Code,
		Description:   c.Description,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.Value.InexactFloat64(),
		Active:        c.Active,
		StartAt:       c.StartAt,
		EndAt:         c.EndAt,
		MaxUses:       c.MaxUses,
		UsedCount:     c.UsedCount,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.MinOrderAmount.Valid {
		m := c.MinOrderAmount.Decimal.InexactFloat64()
		resp.MinOrderAmount = &m
	}
	return resp
}

type toggleCouponResponse struct {
	Message string         `json:"message"`
	Coupon  couponResponse `json:"coupon"`
}

type notificationResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func toNotifications(ns []notify.Notification) []notificationResponse {
	out := make([]notificationResponse, len(ns))
	for i, n := range ns {
		out[i] = notificationResponse{
			ID:        n.ID,
			UserID:    n.UserID,
			Message:   n.Message,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		}
	}
	return out
}

type markAllReadResponse struct {
	Message string `json:"message"`
	Updated int64  `json:"updated"`
}
