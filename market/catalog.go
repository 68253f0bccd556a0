package market

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - Public, filtered view of vouchers on sale
// =============================================================================

// CatalogFilter holds the optional catalog filters. Zero values are ignored.
type CatalogFilter struct {
	Description  string
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	TourType     TourType
	TransferType TransferType
	HotelType    HotelType
}

// BuildCatalogQuery translates a filter into a store query.
//
// Only REGISTERED vouchers are listed and hot vouchers come first. The price
// range applies only when both bounds are present. An inactive viewer does
// not see hot vouchers at all; a nil viewer (anonymous or unknown) does.
func BuildCatalogQuery(f CatalogFilter, viewer *User, page PageRequest, sort Sort) VoucherQuery {
	q := VoucherQuery{
		Statuses: []VoucherStatus{StatusRegistered},
		HotFirst: true,
		Sort:     sort,
		Page:     page,
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		q.DescriptionContains = d
	}
	if f.MinPrice != nil && f.MaxPrice != nil {
		q.MinPrice = f.MinPrice
		q.MaxPrice = f.MaxPrice
	}
	q.TourType = f.TourType
	q.TransferType = f.TransferType
	q.HotelType = f.HotelType
	if viewer != nil && !viewer.Active {
		q.ExcludeHot = true
	}
	return q
}

// Catalog serves the customer-facing voucher listing.
type Catalog struct {
	Store Store
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{Store: store}
}

// Browse returns one page of the catalog as seen by viewerUsername.
// A blank or unknown username browses anonymously.
func (c *Catalog) Browse(ctx context.Context, f CatalogFilter, viewerUsername string, page PageRequest, sort Sort) (VoucherPage, error) {
	var viewer *User
	if strings.TrimSpace(viewerUsername) != "" {
		u, err := c.Store.GetUserByUsername(ctx, viewerUsername)
		if err != nil {
			return VoucherPage{}, err
		}
		viewer = u
	}
	return c.Store.FindVouchers(ctx, BuildCatalogQuery(f, viewer, page, sort))
}
