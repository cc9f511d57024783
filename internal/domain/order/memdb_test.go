package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/cartstream/storefront/internal/domain/address"
	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/catalog"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/domain/notify"
)

// --- In-memory transactional database ---

type memState struct {
	users         map[int64]auth.User
	items         map[int64]catalog.Item
	variants      map[int64]catalog.Variant
	coupons       map[int64]coupon.Coupon
	addresses     map[int64]address.Address
	orders        map[int64]Order
	notifications []notify.Notification
	nextID        int64
}

func newMemState() *memState {
	return &memState{
		users:     map[int64]auth.User{},
		items:     map[int64]catalog.Item{},
		variants:  map[int64]catalog.Variant{},
		coupons:   map[int64]coupon.Coupon{},
		addresses: map[int64]address.Address{},
		orders:    map[int64]Order{},
		nextID:    1000,
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:         maps.Clone(s.users),
		items:         maps.Clone(s.items),
		variants:      maps.Clone(s.variants),
		coupons:       maps.Clone(s.coupons),
		addresses:     maps.Clone(s.addresses),
		orders:        make(map[int64]Order, len(s.orders)),
		notifications: slices.Clone(s.notifications),
		nextID:        s.nextID,
	}
	for id, o := range s.orders {
		o.Lines = slices.Clone(o.Lines)
		c.orders[id] = o
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memDB serializes transactions: each one works on a copy of the state that
// replaces the committed state only when fn succeeds.
type memDB struct {
	mu    sync.Mutex
	state *memState

	notifyErr       error
	beforeConsume   func(st *memState, couponID int64)
	beforeDecrement func(st *memState, variantID int64)
	decremented     []int64
	inserts         int
}

func newMemDB() *memDB {
	return &memDB{state: newMemState()}
}

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	st := db.state.clone()
	if err := fn(ctx, &memTx{db: db, st: st}); err != nil {
		return err
	}
	db.state = st
	return nil
}

func (db *memDB) snapshot() *memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.clone()
}

func (db *memDB) List(_ context.Context, f Filter) ([]View, error) {
	return listState(db.snapshot(), f), nil
}

func listState(st *memState, f Filter) []View {
	var out []View
	for _, o := range st.orders {
		if f.OrderID != nil && o.ID != *f.OrderID {
			continue
		}
		if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
			continue
		}
		v := View{Order: o, CustomerUsername: st.users[o.CustomerID].Username}
		v.Order.Lines = nil
		if o.ShippingAddressID != nil {
			if a, ok := st.addresses[*o.ShippingAddressID]; ok {
				v.ShippingAddress = &a
			}
		}
		for _, l := range o.Lines {
			item := st.items[l.ItemID]
			if f.OwnerID != nil && item.OwnerID != *f.OwnerID {
				continue
			}
			variant := st.variants[l.VariantID]
			v.Lines = append(v.Lines, LineView{
				Line:         l,
				ItemTitle:    item.Title,
				OwnerID:      item.OwnerID,
				OwnerName:    st.users[item.OwnerID].Username,
				VariantSize:  variant.Size,
				VariantColor: variant.Color,
				VariantPrice: variant.Price,
				ImageURL:     variant.ImageURL,
			})
		}
		if f.OwnerID != nil && len(v.Lines) == 0 {
			continue
		}
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b View) int {
		if c := b.Order.OrderDate.Compare(a.Order.OrderDate); c != 0 {
			return c
		}
		return int(b.Order.ID - a.Order.ID)
	})
	return out
}

type memTx struct {
	db *memDB
	st *memState
}

func (t *memTx) Catalog() catalog.Store { return (*memCatalog)(t) }
func (t *memTx) Coupons() coupon.Store { return (*memCoupons)(t) }
func (t *memTx) Addresses() address.Store { return (*memAddresses)(t) }
func (t *memTx) Orders() Repository { return (*memOrders)(t) }
func (t *memTx) Notifications() notify.Store { return (*memNotifications)(t) }
func (t *memTx) Users() auth.UserStore { return (*memUsers)(t) }

type memCatalog memTx

func (c *memCatalog) GetItem(_ context.Context, id int64) (*catalog.Item, error) {
	it, ok := c.st.items[id]
	if !ok {
		return nil, catalog.ErrItemNotFound
	}
	return &it, nil
}

func (c *memCatalog) GetVariant(_ context.Context, id int64) (*catalog.Variant, error) {
	v, ok := c.st.variants[id]
	if !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &v, nil
}

func (c *memCatalog) ListVariantsForItem(_ context.Context, itemID int64) ([]catalog.Variant, error) {
	var out []catalog.Variant
	for _, v := range c.st.variants {
		if v.ItemID == itemID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *memCatalog) TryDecrementStock(_ context.Context, variantID int64, qty int) (int, error) {
	if c.db.beforeDecrement != nil {
		c.db.beforeDecrement(c.st, variantID)
	}
	c.db.decremented = append(c.db.decremented, variantID)
	v, ok := c.st.variants[variantID]
	if !ok || v.Stock < qty {
		return 0, catalog.ErrInsufficientStock
	}
	v.Stock -= qty
	c.st.variants[variantID] = v
	return v.Stock, nil
}

func (c *memCatalog) RestoreStock(_ context.Context, variantID int64, qty int) (int, error) {
	v, ok := c.st.variants[variantID]
	if !ok {
		return 0, catalog.ErrVariantNotFound
	}
	v.Stock += qty
	c.st.variants[variantID] = v
	return v.Stock, nil
}

type memCoupons memTx

func (c *memCoupons) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, cp := range c.st.coupons {
		if cp.Code == code {
			return &cp, nil
		}
	}
	return nil, coupon.ErrNotFound
}

func (c *memCoupons) TryConsume(_ context.Context, id int64, expectedUsed int) (int, error) {
	if c.db.beforeConsume != nil {
		c.db.beforeConsume(c.st, id)
	}
	cp, ok := c.st.coupons[id]
	if !ok || cp.UsedCount != expectedUsed || cp.Exhausted() {
		return 0, coupon.ErrContention
	}
	cp.UsedCount++
	c.st.coupons[id] = cp
	return cp.UsedCount, nil
}

type memAddresses memTx

func (a *memAddresses) Get(_ context.Context, id int64) (*address.Address, error) {
	addr, ok := a.st.addresses[id]
	if !ok {
		return nil, address.ErrNotFound
	}
	return &addr, nil
}

func (a *memAddresses) FindIdentical(_ context.Context, userID int64, f address.Fields) (*address.Address, error) {
	for _, addr := range a.st.addresses {
		if addr.UserID == userID && addr.Fields.Equal(f) {
			return &addr, nil
		}
	}
	return nil, address.ErrNotFound
}

func (a *memAddresses) Insert(_ context.Context, userID int64, f address.Fields, isDefault bool, at time.Time) (*address.Address, error) {
	addr := address.Address{
		ID:        a.st.id(),
		UserID:    userID,
		Fields:    f,
		IsDefault: isDefault,
		CreatedAt: at,
		UpdatedAt: at,
	}
	a.st.addresses[addr.ID] = addr
	return &addr, nil
}

func (a *memAddresses) UnsetOtherDefaults(_ context.Context, userID, keepID int64) error {
	for id, addr := range a.st.addresses {
		if addr.UserID == userID && id != keepID {
			addr.IsDefault = false
			a.st.addresses[id] = addr
		}
	}
	return nil
}

func (a *memAddresses) SetDefault(_ context.Context, id int64, at time.Time) error {
	addr, ok := a.st.addresses[id]
	if !ok {
		return address.ErrNotFound
	}
	addr.IsDefault = true
	addr.UpdatedAt = at
	a.st.addresses[id] = addr
	return nil
}

type memOrders memTx

func (o *memOrders) List(_ context.Context, f Filter) ([]View, error) {
	return listState(o.st, f), nil
}

func (o *memOrders) Insert(_ context.Context, ord *Order) error {
	ord.ID = o.st.id()
	for i := range ord.Lines {
		ord.Lines[i].ID = o.st.id()
		ord.Lines[i].OrderID = ord.ID
	}
	stored := *ord
	stored.Lines = slices.Clone(ord.Lines)
	o.st.orders[ord.ID] = stored
	o.db.inserts++
	return nil
}

func (o *memOrders) GetForUpdate(_ context.Context, id int64) (*Order, error) {
	ord, ok := o.st.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	ord.Lines = slices.Clone(ord.Lines)
	return &ord, nil
}

func (o *memOrders) UpdateStatus(_ context.Context, id int64, from, to Status, tracking *string, at time.Time) error {
	ord, ok := o.st.orders[id]
	if !ok || ord.Status != from {
		return ErrOrderNotFound
	}
	ord.Status = to
	if tracking != nil {
		ord.TrackingNumber = tracking
	}
	ord.UpdatedAt = at
	o.st.orders[id] = ord
	return nil
}

func (o *memOrders) HasOwnerLine(_ context.Context, orderID, ownerID int64) (bool, error) {
	for _, l := range o.st.orders[orderID].Lines {
		if o.st.items[l.ItemID].OwnerID == ownerID {
			return true, nil
		}
	}
	return false, nil
}

type memNotifications memTx

func (n *memNotifications) CreateBatch(_ context.Context, ns []notify.Notification) error {
	if n.db.notifyErr != nil {
		return n.db.notifyErr
	}
	for _, x := range ns {
		x.ID = n.st.id()
		n.st.notifications = append(n.st.notifications, x)
	}
	return nil
}

func (n *memNotifications) List(_ context.Context, userID int64) ([]notify.Notification, error) {
	var out []notify.Notification
	for _, x := range n.st.notifications {
		if x.UserID == userID {
			out = append(out, x)
		}
	}
	return out, nil
}

func (n *memNotifications) MarkRead(context.Context, int64, int64) error {
	return errors.New("not implemented")
}

func (n *memNotifications) MarkAllRead(context.Context, int64) (int64, error) {
	return 0, errors.New("not implemented")
}

type memUsers memTx

func (u *memUsers) GetUser(_ context.Context, id int64) (*auth.User, error) {
	usr, ok := u.st.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &usr, nil
}

// --- Notifier ---

type recordingNotifier struct {
	mu       sync.Mutex
	staged   []notify.Message
	enqueued []notify.Email
}

func (r *recordingNotifier) Stage(ctx context.Context, st notify.Store, msgs ...notify.Message) []notify.Email {
	rows := make([]notify.Notification, 0, len(msgs))
	var emails []notify.Email
	for _, m := range msgs {
		rows = append(rows, notify.Notification{UserID: m.UserID, Message: m.Text})
		if m.Email != nil {
			emails = append(emails, *m.Email)
		}
	}
	_ = st.CreateBatch(ctx, rows)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged = append(r.staged, msgs...)
	return emails
}

func (r *recordingNotifier) Enqueue(_ context.Context, emails ...notify.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, emails...)
}

func (r *recordingNotifier) emailsTo(to string) []notify.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Email
	for _, e := range r.enqueued {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}
