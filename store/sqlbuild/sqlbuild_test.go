package sqlbuild

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/voucher-market/market"
)

func TestBuild_EmptyQuery(t *testing.T) {
	c := Build(market.VoucherQuery{}, SQLite)

	assert.Empty(t, c.Where)
	assert.Empty(t, c.Args)
	assert.Empty(t, c.Limit)
	assert.Equal(t, "ORDER BY CAST(v.price AS REAL) DESC, v.id ASC", c.OrderBy)
}

func TestBuild_CatalogQueryPostgres(t *testing.T) {
	lo, hi := decimal.NewFromInt(10), decimal.NewFromInt(20)
	q := market.VoucherQuery{
		Statuses:            []market.VoucherStatus{market.StatusRegistered},
		TourType:            market.TourSafari,
		MinPrice:            &lo,
		MaxPrice:            &hi,
		DescriptionContains: "50%_Off",
		ExcludeHot:          true,
		HotFirst:            true,
		Sort:                market.Sort{Field: market.SortTitle, Direction: market.Asc},
		Page:                market.PageRequest{Index: 2, Size: 5},
	}

	c := Build(q, Postgres)

	assert.Equal(t, "WHERE v.status IN ($1) AND v.tour_type = $2 AND v.price BETWEEN $3 AND $4"+
		` AND LOWER(v.description) LIKE $5 ESCAPE '\' AND NOT v.is_hot`, c.Where)
	assert.Equal(t, []any{"REGISTERED", "SAFARI", "10", "20", `%50\%\_off%`}, c.Args)
	assert.Equal(t, "ORDER BY v.is_hot DESC, v.title ASC, v.id ASC", c.OrderBy)
	assert.Equal(t, "LIMIT 5 OFFSET 10", c.Limit)
}

func TestBuild_LonePriceBoundIsIgnored(t *testing.T) {
	lo := decimal.NewFromInt(10)
	c := Build(market.VoucherQuery{MinPrice: &lo, OwnerUsername: "alice"}, SQLite)

	assert.Equal(t, "WHERE u.username = ?", c.Where)
	assert.Equal(t, []any{"alice"}, c.Args)
}

func TestBuild_ExactPriceComparesDecimalText(t *testing.T) {
	price := decimal.RequireFromString("150.10")

	c := Build(market.VoucherQuery{Price: &price}, SQLite)

	assert.Equal(t, "WHERE v.price = ?", c.Where)
	assert.Equal(t, []any{"150.1"}, c.Args)
}
