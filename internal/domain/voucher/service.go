package voucher

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

// Quote is a discount preview for an order.
type Quote struct {
	VoucherID string   `json:"voucherId"`
	Discount  Discount `json:"result"`
}

// ApplyRequest holds the input for redeeming a voucher on an order.
type ApplyRequest struct {
	CustomerID string
	Order      Order
}

// ApplyResult holds the output of a successful redemption.
type ApplyResult struct {
	Discount Discount     `json:"result"`
	Record   usage.Record `json:"record"`
}

// Offer is a voucher the customer may use on an order, with its discount.
type Offer struct {
	Voucher  Voucher  `json:"voucher"`
	Discount Discount `json:"result"`
}

// Service encapsulates voucher lifecycle and redemption.
type Service struct {
	repo    Repository
	checker *Checker
	newID   func() string

	redemptions metric.Int64Counter
	discounted  metric.Float64Histogram
}

// NewService creates a voucher Service recording metrics with meter.
func NewService(repo Repository, meter metric.Meter) (*Service, error) {
	redemptions, err := meter.Int64Counter("voucher.redemptions",
		metric.WithDescription("Number of successful voucher redemptions"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}
	discounted, err := meter.Float64Histogram("voucher.discount",
		metric.WithDescription("Discount granted per redemption"),
		metric.WithUnit("{currency}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create discount histogram")
	}
	return &Service{
		repo:        repo,
		checker:     NewChecker(),
		newID:       func() string { return uuid.New().String() },
		redemptions: redemptions,
		discounted:  discounted,
	}, nil
}

// Create assigns identifiers to a draft voucher, validates and persists it.
// A draft without a state is enabled.
func (s *Service) Create(ctx context.Context, draft Voucher) (*Voucher, error) {
	v := draft.Clone()
	v.ID = s.newID()
	if v.State == "" {
		v.State = StateEnabled
	}
	for i := range v.Conditions {
		if v.Conditions[i].ID == "" {
			v.Conditions[i].ID = s.newID()
		}
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v.Conditions) > MaxConditions {
		return nil, invalid("conditions", fmt.Sprintf("at most %d conditions allowed", MaxConditions))
	}
	if err := s.repo.Create(ctx, &v); err != nil {
		return nil, errors.Wrap(err, "create voucher")
	}
	return &v, nil
}

// Get returns the voucher with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Voucher, error) {
	v, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get voucher %q", id)
	}
	return v, nil
}

// Update merges patch into the stored voucher and persists the result.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Voucher, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := current.Merge(patch)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, errors.Wrap(err, "update voucher")
	}
	return &next, nil
}

// Quote checks eligibility and previews the discount without redeeming.
func (s *Service) Quote(ctx context.Context, id string, order Order) (*Quote, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := s.evaluate(v, order)
	if err != nil {
		return nil, err
	}
	return &Quote{VoucherID: v.ID, Discount: d}, nil
}

// Apply redeems the voucher: it checks eligibility, computes the discount,
// then decrements the remaining quantity and records the usage.
func (s *Service) Apply(ctx context.Context, id string, req ApplyRequest) (*ApplyResult, error) {
	if req.CustomerID == "" {
		return nil, invalid("customerId", "required")
	}
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now, err := s.checker.Check(v, req.Order)
	if err != nil {
		return nil, err
	}
	d, err := ComputeDiscount(v, req.Order.Amount)
	if err != nil {
		return nil, err
	}

	rec := usage.Record{
		ID:            s.newID(),
		VoucherID:     v.ID,
		CustomerID:    req.CustomerID,
		PartnerID:     v.PartnerID,
		ServiceIDs:    []string{req.Order.ServiceID},
		OrderPrice:    req.Order.Amount,
		TotalDiscount: d.Amount,
		Date:          now,
	}
	if err := s.repo.Redeem(ctx, v.ID, rec); err != nil {
		// The voucher may have changed since it was read.
		if Reason(err) != "" || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "redeem voucher")
	}

	attrs := metric.WithAttributes(attribute.String("voucher.id", v.ID))
	s.redemptions.Add(ctx, 1, attrs)
	s.discounted.Record(ctx, d.Amount.InexactFloat64(), attrs)

	return &ApplyResult{Discount: d, Record: rec}, nil
}

// Offers lists vouchers applicable to order, largest discount first.
// Vouchers that fail eligibility or match no tier are left out.
func (s *Service) Offers(ctx context.Context, order Order) ([]Offer, error) {
	if order.Amount.IsNegative() {
		return nil, invalid("amount", "must not be negative")
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list vouchers")
	}
	offers := make([]Offer, 0, len(all))
	for i := range all {
		d, err := s.evaluate(&all[i], order)
		if err != nil {
			if Reason(err) != "" {
				continue
			}
			return nil, err
		}
		offers = append(offers, Offer{Voucher: all[i], Discount: d})
	}
	slices.SortStableFunc(offers, func(a, b Offer) int {
		return b.Discount.Amount.Cmp(a.Discount.Amount)
	})
	return offers, nil
}

func (s *Service) evaluate(v *Voucher, order Order) (Discount, error) {
	if _, err := s.checker.Check(v, order); err != nil {
		return Discount{}, err
	}
	return ComputeDiscount(v, order.Amount)
}
