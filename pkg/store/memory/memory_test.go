package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/storefront/pkg/challenge"
	serrors "github.com/theory-cloud/storefront/pkg/errors"
	"github.com/theory-cloud/storefront/pkg/model"
)

func TestOrders(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateOrder(ctx, &model.Order{ID: "a", UserID: "u-1", Status: model.OrderStatusPending, CreatedAt: base}))
	require.NoError(t, s.CreateOrder(ctx, &model.Order{ID: "b", UserID: "u-1", Status: model.OrderStatusPending, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateOrder(ctx, &model.Order{ID: "c", UserID: model.GuestUserID, CreatedAt: base.Add(2 * time.Hour)}))

	err := s.CreateOrder(ctx, &model.Order{ID: "a"})
	assert.True(t, serrors.IsConditionFailed(err))

	mine, err := s.ListOrdersByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "b", mine[0].ID)

	all, err := s.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.UpdateOrderStatus(ctx, "a", model.OrderStatusPending, model.OrderStatusProcessing))
	err = s.UpdateOrderStatus(ctx, "a", model.OrderStatusPending, model.OrderStatusCancelled)
	assert.True(t, serrors.IsConditionFailed(err))

	_, err = s.GetOrder(ctx, "zzz")
	assert.True(t, serrors.IsNotFound(err))
}

func TestCreateOrderWithStockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutProduct(ctx, &model.Product{ID: "p1", Stock: 5}))

	order := &model.Order{ID: "o-1", Items: []model.OrderItem{{ProductID: "p1", Quantity: 2}, {ProductID: "ghost", Quantity: 1}}}
	err := s.CreateOrderWithStock(ctx, order)
	assert.True(t, serrors.IsConditionFailed(err))

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	_, err = s.GetOrder(ctx, "o-1")
	assert.True(t, serrors.IsNotFound(err))

	order.Items = order.Items[:1]
	require.NoError(t, s.CreateOrderWithStock(ctx, order))
	p, _ = s.GetProduct(ctx, "p1")
	assert.Equal(t, 3, p.Stock)
}

func TestAdjustStockAllowsOversell(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutProduct(ctx, &model.Product{ID: "p1", Stock: 1}))

	require.NoError(t, s.AdjustStock(ctx, "p1", -2))
	p, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, -1, p.Stock)

	assert.True(t, serrors.IsConditionFailed(s.AdjustStock(ctx, "missing", -1)))
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetFailure(func(op, key string) error {
		if op == "AdjustStock" && key == "p2" {
			return serrors.ErrThrottled
		}
		return nil
	})
	require.NoError(t, s.PutProduct(ctx, &model.Product{ID: "p1"}))
	require.NoError(t, s.PutProduct(ctx, &model.Product{ID: "p2"}))

	assert.NoError(t, s.AdjustStock(ctx, "p1", -1))
	err := s.AdjustStock(ctx, "p2", -1)
	assert.True(t, errors.Is(err, serrors.ErrThrottled))
	assert.True(t, serrors.IsPersistence(err))
}

func TestShippingRates(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetShippingRates(ctx)
	assert.True(t, serrors.IsNotFound(err))

	require.NoError(t, s.PutShippingRates(ctx, model.ShippingRateTable{"Texas": 15}))
	table, err := s.GetShippingRates(ctx)
	require.NoError(t, err)
	table["Texas"] = 0

	again, _ := s.GetShippingRates(ctx)
	assert.Equal(t, 15.0, again["Texas"])
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateProfile(ctx, &model.UserProfile{ID: "u-1", Email: "Mona@Example.com", Phone: "+1555", PhoneVerified: true}))
	require.NoError(t, s.CreateProfile(ctx, &model.UserProfile{ID: "u-claim", Phone: "+1666"}))
	assert.True(t, serrors.IsConditionFailed(s.CreateProfile(ctx, &model.UserProfile{ID: "u-1"})))

	p, err := s.FindProfileByEmail(ctx, "MONA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)

	p, err = s.FindVerifiedProfileByPhone(ctx, "+1555")
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)

	_, err = s.FindVerifiedProfileByPhone(ctx, "+1666")
	assert.True(t, serrors.IsNotFound(err))

	p.Name = "Mona"
	require.NoError(t, s.UpdateProfile(ctx, p))
	got, _ := s.GetProfile(ctx, "u-1")
	assert.Equal(t, "Mona", got.Name)

	assert.True(t, serrors.IsConditionFailed(s.UpdateProfile(ctx, &model.UserProfile{ID: "nobody"})))
}

func TestGatesExpire(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.PutGate(ctx, &model.GateSnapshot{ID: "s-1", State: model.GateVerified, TTL: 1100}))
	_, err := s.GetGate(ctx, "s-1")
	require.NoError(t, err)

	now = time.Unix(1200, 0)
	_, err = s.GetGate(ctx, "s-1")
	assert.True(t, serrors.IsNotFound(err))
}

func TestChallenges(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return now })
	c := s.Challenges()

	ch, err := c.Issue(ctx, "+1555", "hash")
	require.NoError(t, err)

	got, err := c.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "+1555", got.Phone)

	for i := 1; i < challenge.DefaultMaxAttempts; i++ {
		attempts, err := c.RecordFailure(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
	}
	_, err = c.RecordFailure(ctx, ch.ID)
	assert.True(t, challenge.IsAttemptsExhausted(err))
	assert.Equal(t, 0, c.Len())

	ch, _ = c.Issue(ctx, "+1555", "hash")
	require.NoError(t, c.Consume(ctx, ch.ID))
	assert.True(t, challenge.IsNotFound(c.Consume(ctx, ch.ID)))

	ch, _ = c.Issue(ctx, "+1555", "hash")
	now = now.Add(challenge.DefaultLifetime)
	_, err = c.Get(ctx, ch.ID)
	assert.True(t, challenge.IsNotFound(err))
}
