/*
Package sqlbuild translates a market.VoucherQuery into SQL clauses.

PURPOSE:
  The sqlite and postgres stores share one translation of the voucher
  filter record so both list vouchers identically. The function appends a
  predicate for each populated field and nothing for empty ones.

ALIASES:
  Generated SQL expects `vouchers v LEFT JOIN users u ON u.id = v.user_id`.

DIALECTS:
  SQLite:   ? placeholders, price stored as TEXT in decimal.String() form.
            Exact price compares that text, so it is decimal equality.
            Ranges and sorting cast to REAL, which keeps two-decimal
            amounts in order below 2^53 cents. LOWER() folds ASCII
            only, so description matching ignores case for ASCII
            letters only.
  Postgres: $n placeholders, price stored as NUMERIC

SEE ALSO:
  - market/query.go: VoucherQuery and the in-memory equivalent (Matches/Less)
*/
package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Placeholder func(n int) string
	PriceExpr   string
	PriceArg    func(d decimal.Decimal) any

	// PriceEqExpr and PriceEqArg serve the exact-price filter.
	PriceEqExpr string
	PriceEqArg  func(d decimal.Decimal) any
}

var SQLite = Dialect{
	Placeholder: func(int) string { return "?" },
	PriceExpr:   "CAST(v.price AS REAL)",
	PriceArg:    func(d decimal.Decimal) any { return d.InexactFloat64() },
	PriceEqExpr: "v.price",
	PriceEqArg:  func(d decimal.Decimal) any { return d.String() },
}

var Postgres = Dialect{
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	PriceExpr:   "v.price",
	PriceArg:    func(d decimal.Decimal) any { return d.String() },
	PriceEqExpr: "v.price",
	PriceEqArg:  func(d decimal.Decimal) any { return d.String() },
}

// Clause is the translated query. Where includes the leading "WHERE" when
// non-empty; Limit includes "LIMIT ... OFFSET ..." when paged.
type Clause struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   string
}

// Build translates q for dialect d.
func Build(q market.VoucherQuery, d Dialect) Clause {
	b := &builder{d: d}

	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			marks[i] = b.arg(string(s))
		}
		b.where("v.status IN (" + strings.Join(marks, ", ") + ")")
	}
	if q.TourType != "" {
		b.where("v.tour_type = " + b.arg(string(q.TourType)))
	}
	if q.TransferType != "" {
		b.where("v.transfer_type = " + b.arg(string(q.TransferType)))
	}
	if q.HotelType != "" {
		b.where("v.hotel_type = " + b.arg(string(q.HotelType)))
	}
	if q.Price != nil {
		b.where(d.PriceEqExpr + " = " + b.arg(d.PriceEqArg(*q.Price)))
	}
	if q.HasPriceRange() {
		b.where(d.PriceExpr + " BETWEEN " + b.arg(d.PriceArg(*q.MinPrice)) + " AND " + b.arg(d.PriceArg(*q.MaxPrice)))
	}
	if q.DescriptionContains != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.DescriptionContains)) + "%"
		b.where("LOWER(v.description) LIKE " + b.arg(pattern) + ` ESCAPE '\'`)
	}
	if q.OwnerUsername != "" {
		b.where("u.username = " + b.arg(q.OwnerUsername))
	}
	if q.ExcludeHot {
		b.where("NOT v.is_hot")
	}

	c := Clause{Args: b.args, OrderBy: orderBy(q, d)}
	if len(b.conds) > 0 {
		c.Where = "WHERE " + strings.Join(b.conds, " AND ")
	}
	if !q.Page.Unpaged() {
		c.Limit = fmt.Sprintf("LIMIT %d OFFSET %d", q.Page.Size, q.Page.Offset())
	}
	return c
}

func orderBy(q market.VoucherQuery, d Dialect) string {
	var parts []string
	if q.HotFirst {
		parts = append(parts, "v.is_hot DESC")
	}
	s := q.Sort
	if s.Field == "" {
		s = market.DefaultSort
	}
	dir := "DESC"
	if s.Direction == market.Asc {
		dir = "ASC"
	}
	parts = append(parts, column(s.Field, d)+" "+dir, "v.id ASC")
	return "ORDER BY " + strings.Join(parts, ", ")
}

func column(f market.SortField, d Dialect) string {
	switch f {
	case market.SortTitle:
		return "v.title"
	case market.SortDescription:
		return "v.description"
	case market.SortArrivalDate:
		return "v.arrival_date"
	case market.SortEvictionDate:
		return "v.eviction_date"
	case market.SortTourType:
		return "v.tour_type"
	case market.SortTransferType:
		return "v.transfer_type"
	case market.SortHotelType:
		return "v.hotel_type"
	case market.SortStatus:
		return "v.status"
	default:
		return d.PriceExpr
	}
}

type builder struct {
	d     Dialect
	conds []string
	args  []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

func (b *builder) where(cond string) {
	b.conds = append(b.conds, cond)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
