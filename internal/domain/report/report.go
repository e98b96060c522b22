// Package report builds usage dashboards for the admin and partner views.
package report

import (
	"context"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

// Query selects the records a dashboard is built from.
type Query struct {
	PartnerID string         `json:"partnerId,omitempty"`
	VoucherID string         `json:"voucherId,omitempty"`
	Criteria  usage.Criteria `json:"criteria"`
}

// cacheKey encodes q with every component escaped, so distinct queries never
// share a key.
func (q Query) cacheKey() string {
	c := q.Criteria
	return "report:" + url.Values{
		"p": {q.PartnerID},
		"v": {q.VoucherID},
		"m": {strconv.Itoa(c.Month)},
		"y": {strconv.Itoa(c.Year)},
		"s": {c.ServiceID},
	}.Encode()
}

// Dashboard is the reporting view of a record set.
type Dashboard struct {
	Query Query `json:"query"`
	// NoFilter is set when the query carried no criteria.
	NoFilter bool `json:"noFilter"`
	// Empty is set when no record survived the filter.
	Empty     bool                `json:"empty"`
	Summary   usage.Summary       `json:"summary"`
	ByVoucher []usage.Statistic   `json:"byVoucher"`
	ByDate    []usage.Statistic   `json:"byDate"`
	Options   usage.FilterOptions `json:"options"`
}

// Cache stores rendered dashboards.
type Cache interface {
	Get(ctx context.Context, key string) (*Dashboard, bool)
	Set(ctx context.Context, key string, d *Dashboard) error
}

// Service builds dashboards from a usage repository.
type Service struct {
	records usage.Repository
	cache   Cache
	tracer  trace.Tracer
}

// NewService creates a report Service. cache may be nil.
func NewService(records usage.Repository, cache Cache, tracer trace.Tracer) *Service {
	return &Service{records: records, cache: cache, tracer: tracer}
}

// Dashboard loads the records in the query scope, filters them and rolls
// them up. Filter options are computed before filtering so every choice
// stays selectable.
func (s *Service) Dashboard(ctx context.Context, q Query) (*Dashboard, error) {
	if err := q.Criteria.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "report.Dashboard", trace.WithAttributes(
		attribute.String("report.partner_id", q.PartnerID),
		attribute.String("report.voucher_id", q.VoucherID),
	))
	defer span.End()

	key := q.cacheKey()
	if s.cache != nil {
		if d, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("report.cache_hit", true))
			return d, nil
		}
	}

	d, err := s.build(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, d); err != nil {
			zctx.From(ctx).Warn("Cache report", zap.String("key", key), zap.Error(err))
		}
	}
	return d, nil
}

func (s *Service) build(ctx context.Context, q Query) (*Dashboard, error) {
	// Date criteria are applied in memory: the filter options need every
	// year in scope, not only the selected one.
	all, err := s.records.List(ctx, usage.Scope{PartnerID: q.PartnerID, VoucherID: q.VoucherID})
	if err != nil {
		return nil, errors.Wrap(err, "list usage")
	}
	filtered := usage.Filter(all, q.Criteria)

	byVoucher, err := usage.Aggregate(filtered, usage.ByVoucher)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate by voucher")
	}
	byDate, err := usage.Aggregate(filtered, usage.ByCalendarDate)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate by date")
	}

	return &Dashboard{
		Query:     q,
		NoFilter:  q.Criteria.IsZero(),
		Empty:     len(filtered) == 0,
		Summary:   usage.Summarize(filtered),
		ByVoucher: byVoucher.Groups,
		ByDate:    byDate.SortedByKey(),
		Options:   usage.Options(all),
	}, nil
}
