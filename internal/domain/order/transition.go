package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/notify"
)

// UpdateStatusRequest asks for an order to move to Status. TrackingNumber is
// stored only when moving to shipped.
type UpdateStatusRequest struct {
	Status         Status
	TrackingNumber *string
}

// UpdateStatus applies a lifecycle transition on behalf of a shop owner or
// an admin. A shop owner may only touch orders containing one of their
// items. Requesting the current status succeeds without side effects.
// Cancelling returns the ordered quantities to stock.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, orderID int64, req UpdateStatusRequest) (string, error) {
	ctx, span := s.tel.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	if err := p.Require(auth.RoleShopOwner, auth.RoleAdmin); err != nil {
		return "", err
	}
	if !req.Status.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", req.Status)}
	}
	if req.TrackingNumber != nil && strings.TrimSpace(*req.TrackingNumber) == "" {
		req.TrackingNumber = nil
	}

	var (
		emails  []notify.Email
		from    Status
		applied bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if p.Is(auth.RoleShopOwner) {
			ok, err := tx.Orders().HasOwnerLine(ctx, o.ID, p.UserID)
			if err != nil {
				return errors.Wrap(err, "check order ownership")
			}
			if !ok {
				return errors.Wrapf(auth.ErrForbidden, "order %d has no items of user %d", o.ID, p.UserID)
			}
		}

		from = o.Status
		if from == req.Status {
			return nil
		}
		if !CanTransition(from, req.Status) {
			return &IllegalTransitionError{From: from, To: req.Status}
		}

		var tracking *string
		if req.Status == StatusShipped {
			tracking = req.TrackingNumber
		}
		now := s.now()
		if err := tx.Orders().UpdateStatus(ctx, o.ID, from, req.Status, tracking, now); err != nil {
			return errors.Wrap(err, "update status")
		}

		if req.Status == StatusCancelled {
			for _, l := range o.Lines {
				if _, err := tx.Catalog().RestoreStock(ctx, l.VariantID, l.Quantity); err != nil {
					return errors.Wrapf(err, "restore stock of variant %d", l.VariantID)
				}
			}
		}

		emails = s.notifier.Stage(ctx, tx.Notifications(), statusMessage(ctx, tx.Users(), o, req.Status, tracking))
		applied = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if applied {
		s.tel.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(req.Status)),
		))
		s.notifier.Enqueue(ctx, emails...)
		zctx.From(ctx).Info("Order status updated",
			zap.Int64("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(req.Status)),
			zap.Int64("by", p.UserID),
		)
	}
	return fmt.Sprintf("Order %d status updated to %s", orderID, req.Status), nil
}

func statusMessage(ctx context.Context, users auth.UserStore, o *Order, to Status, tracking *string) notify.Message {
	var tn string
	if tracking != nil {
		tn = *tracking
	}
	m := notify.Message{
		UserID: o.CustomerID,
		Text:   notify.StatusText(o.ID, string(to), tn),
	}
	u, err := users.GetUser(ctx, o.CustomerID)
	if err != nil {
		zctx.From(ctx).Warn("Lookup customer for notification",
			zap.Int64("customer_id", o.CustomerID),
			zap.Error(err),
		)
		return m
	}
	e := notify.StatusUpdate(u.Email, o.ID, string(to), tn)
	m.Email = &e
	return m
}
