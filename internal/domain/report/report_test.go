package report

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

type mockUsageRepo struct {
	records []usage.Record
	err     error
	calls   int
	scope   usage.Scope
}

func (m *mockUsageRepo) List(_ context.Context, scope usage.Scope) ([]usage.Record, error) {
	m.calls++
	m.scope = scope
	return m.records, m.err
}

func rec(voucher, customer, service, discount string, date time.Time) usage.Record {
	return usage.Record{
		VoucherID:     voucher,
		CustomerID:    customer,
		ServiceIDs:    []string{service},
		TotalDiscount: decimal.RequireFromString(discount),
		Date:          date,
	}
}

func testRecords() []usage.Record {
	return []usage.Record{
		rec("v1", "A", "s1", "100", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		rec("v2", "B", "s2", "40", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		rec("v1", "A", "s1", "60", time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC)),
	}
}

func newNoopService(repo usage.Repository, cache Cache) *Service {
	return NewService(repo, cache, noop.NewTracerProvider().Tracer("test"))
}

func TestDashboard_NoFilter(t *testing.T) {
	repo := &mockUsageRepo{records: testRecords()}
	svc := newNoopService(repo, nil)

	d, err := svc.Dashboard(context.Background(), Query{PartnerID: "p1"})
	require.NoError(t, err)

	assert.True(t, d.NoFilter)
	assert.False(t, d.Empty)
	assert.Equal(t, 3, d.Summary.TotalUsed)
	assert.Equal(t, 2, d.Summary.UniqueCustomerCount)
	require.Len(t, d.ByVoucher, 2)
	assert.Equal(t, "v1", d.ByVoucher[0].Key)
	require.Len(t, d.ByDate, 3)
	assert.Equal(t, "2023-03-09", d.ByDate[0].Key, "date series is chronological")
	assert.Equal(t, []int{2023, 2024}, d.Options.Years)
	assert.Equal(t, "p1", repo.scope.PartnerID)
	assert.True(t, repo.scope.From.IsZero())
}

func TestDashboard_FilteredToEmpty(t *testing.T) {
	svc := newNoopService(&mockUsageRepo{records: testRecords()}, nil)

	d, err := svc.Dashboard(context.Background(), Query{Criteria: usage.Criteria{ServiceID: "s9"}})
	require.NoError(t, err)

	assert.False(t, d.NoFilter)
	assert.True(t, d.Empty)
	assert.Equal(t, 0, d.Summary.TotalUsed)
	assert.Empty(t, d.ByVoucher)
	assert.Equal(t, []string{"s1", "s2"}, d.Options.ServiceIDs)
}

func TestDashboard_DateCriteriaKeepOptions(t *testing.T) {
	repo := &mockUsageRepo{records: testRecords()}
	svc := newNoopService(repo, nil)

	d, err := svc.Dashboard(context.Background(), Query{
		VoucherID: "v1",
		Criteria:  usage.Criteria{Month: 3, Year: 2024},
	})
	require.NoError(t, err)

	assert.Equal(t, "v1", repo.scope.VoucherID)
	assert.True(t, repo.scope.From.IsZero())
	assert.Equal(t, 2, d.Summary.TotalUsed)
	assert.Equal(t, []int{2023, 2024}, d.Options.Years)
}

func TestDashboard_InvalidCriteria(t *testing.T) {
	repo := &mockUsageRepo{}
	svc := newNoopService(repo, nil)

	_, err := svc.Dashboard(context.Background(), Query{Criteria: usage.Criteria{Month: 14}})
	require.ErrorIs(t, err, usage.ErrInvalidCriteria)
	assert.Zero(t, repo.calls)
}

func TestDashboard_RepoError(t *testing.T) {
	svc := newNoopService(&mockUsageRepo{err: errors.New("db down")}, nil)

	_, err := svc.Dashboard(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list usage")
}

func TestDashboard_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &mockUsageRepo{records: testRecords()}
	svc := newNoopService(repo, NewRedisCache(client, time.Minute))
	q := Query{PartnerID: "p1", Criteria: usage.Criteria{Year: 2024}}

	first, err := svc.Dashboard(context.Background(), q)
	require.NoError(t, err)
	second, err := svc.Dashboard(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls, "second call served from cache")
	assert.Equal(t, first.Summary.TotalUsed, second.Summary.TotalUsed)
	assert.True(t, first.Summary.TotalDiscount.Equal(second.Summary.TotalDiscount))
	assert.True(t, mr.Exists(q.cacheKey()))
	assert.Equal(t, time.Minute, mr.TTL(q.cacheKey()))

	mr.FastForward(2 * time.Minute)
	_, err = svc.Dashboard(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls, "expired entry rebuilt")
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, mr.Set("k", "{not json"))
	_, ok := NewRedisCache(client, time.Minute).Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestQuery_CacheKeyDistinct(t *testing.T) {
	tests := []struct {
		name string
		a, b Query
	}{
		{
			name: "separator inside partner id",
			a:    Query{PartnerID: "x:v=:m=0:y=0:s="},
			b:    Query{PartnerID: "x", Criteria: usage.Criteria{ServiceID: ":v=:m=0:y=0:s="}},
		},
		{
			name: "id moved between fields",
			a:    Query{PartnerID: "p1"},
			b:    Query{VoucherID: "p1"},
		},
		{
			name: "ampersand inside service id",
			a:    Query{Criteria: usage.Criteria{ServiceID: "a&p=b"}},
			b:    Query{PartnerID: "b", Criteria: usage.Criteria{ServiceID: "a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.cacheKey(), tt.b.cacheKey())
		})
	}

	q := Query{PartnerID: "p1", Criteria: usage.Criteria{Month: 3, Year: 2024}}
	assert.Equal(t, q.cacheKey(), q.cacheKey())
}
