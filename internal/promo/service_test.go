package promo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront/pkg/db"
	"github.com/angelmondragon/storefront/pkg/db/dbtest"
	"github.com/angelmondragon/storefront/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront/pkg/errors"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func newTestService(t *testing.T) (*Service, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(NewRepository(client.DB()), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return svc, client
}

func TestDiscountMath(t *testing.T) {
	cases := []struct {
		name     string
		promo    models.PromoCode
		subtotal string
		discount string
	}{
		{"ten percent", models.PromoCode{DiscountPercent: decPtr("10")}, "100", "10.00"},
		{"fifteen percent", models.PromoCode{DiscountPercent: decPtr("15")}, "200", "30.00"},
		{"amount clamped to subtotal", models.PromoCode{DiscountAmount: decPtr("200")}, "100", "100"},
		{"fixed amount", models.PromoCode{DiscountAmount: decPtr("5.50")}, "20", "5.50"},
		{"percent rounds to cents", models.PromoCode{DiscountPercent: decPtr("12.5")}, "19.99", "2.50"},
		{"percent wins over amount", models.PromoCode{DiscountPercent: decPtr("10"), DiscountAmount: decPtr("50")}, "100", "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Discount(&tc.promo, dec(tc.subtotal))
			assert.True(t, dec(tc.discount).Equal(got), "expected %s got %s", tc.discount, got)
		})
	}
}

func TestValidateReasons(t *testing.T) {
	base := func() models.PromoCode {
		return models.PromoCode{Code: "SAVE", IsActive: true, DiscountPercent: decPtr("10")}
	}
	cases := []struct {
		name   string
		mutate func(*models.PromoCode)
		want   string
	}{
		{"valid", func(*models.PromoCode) {}, ""},
		{"inactive", func(p *models.PromoCode) { p.IsActive = false }, ReasonInactive},
		{"not started", func(p *models.PromoCode) { p.ValidFrom = timePtr(fixedNow.Add(time.Hour)) }, ReasonNotStarted},
		{"expired", func(p *models.PromoCode) { p.ValidUntil = timePtr(fixedNow.Add(-time.Hour)) }, ReasonExpired},
		{"exhausted", func(p *models.PromoCode) { p.MaxUses = intPtr(3); p.UsedCount = 3 }, ReasonExhausted},
		{"min purchase", func(p *models.PromoCode) { p.MinPurchase = decPtr("150") }, ReasonMinPurchase},
		{"no discount", func(p *models.PromoCode) { p.DiscountPercent = nil }, ReasonNoDiscount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.mutate(&p)
			assert.Equal(t, tc.want, Validate(&p, dec("100"), fixedNow))
		})
	}
}

func TestQuoteIsCaseInsensitive(t *testing.T) {
	svc, client := newTestService(t)
	dbtest.SeedPromo(t, client, models.PromoCode{Code: "PROMO", IsActive: true, DiscountPercent: decPtr("10")})

	quote, err := svc.Quote(context.Background(), "  promo ", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, "PROMO", quote.Code)
	assert.True(t, dec("10").Equal(quote.Discount))
	assert.True(t, dec("90").Equal(quote.Total))
}

func TestQuoteClampsToZeroTotal(t *testing.T) {
	svc, client := newTestService(t)
	dbtest.SeedPromo(t, client, models.PromoCode{Code: "BIG", IsActive: true, DiscountAmount: decPtr("200")})

	quote, err := svc.Quote(context.Background(), "big", dec("100"))
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(quote.Discount))
	assert.True(t, quote.Total.IsZero())
}

func TestQuoteErrors(t *testing.T) {
	svc, client := newTestService(t)
	dbtest.SeedPromo(t, client, models.PromoCode{Code: "OLD", IsActive: true, DiscountPercent: decPtr("5"), ValidUntil: timePtr(fixedNow.Add(-time.Minute))})

	_, err := svc.Quote(context.Background(), "missing", dec("10"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Quote(context.Background(), "old", dec("10"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(RejectionDetails)
	require.True(t, ok)
	assert.Equal(t, ReasonExpired, details.Reason)

	_, err = svc.Quote(context.Background(), "  ", dec("10"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRedeemRespectsUsageCap(t *testing.T) {
	svc, client := newTestService(t)
	dbtest.SeedPromo(t, client, models.PromoCode{Code: "ONCE", IsActive: true, DiscountPercent: decPtr("10"), MaxUses: intPtr(2)})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		redeemed int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Redeem(ctx, "once"); err == nil {
				mu.Lock()
				redeemed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, redeemed)

	var stored models.PromoCode
	require.NoError(t, client.DB().Where("code = ?", "ONCE").First(&stored).Error)
	assert.Equal(t, 2, stored.UsedCount)

	err := svc.Redeem(ctx, "ONCE")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestRedeemUncappedCode(t *testing.T) {
	svc, client := newTestService(t)
	dbtest.SeedPromo(t, client, models.PromoCode{Code: "FOREVER", IsActive: true, DiscountAmount: decPtr("1")})

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Redeem(context.Background(), "forever"))
	}
	var stored models.PromoCode
	require.NoError(t, client.DB().Where("code = ?", "FOREVER").First(&stored).Error)
	assert.Equal(t, 3, stored.UsedCount)
}
