package market

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SORTING
// =============================================================================

type SortField string

const (
	SortPrice        SortField = "price"
	SortTitle        SortField = "title"
	SortDescription  SortField = "description"
	SortArrivalDate  SortField = "arrivalDate"
	SortEvictionDate SortField = "evictionDate"
	SortTourType     SortField = "tourType"
	SortTransferType SortField = "transferType"
	SortHotelType    SortField = "hotelType"
	SortStatus       SortField = "status"
)

var sortFields = []SortField{
	SortPrice, SortTitle, SortDescription, SortArrivalDate, SortEvictionDate,
	SortTourType, SortTransferType, SortHotelType, SortStatus,
}

func (f SortField) Valid() bool {
	for _, v := range sortFields {
		if v == f {
			return true
		}
	}
	return false
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Sort struct {
	Field     SortField
	Direction Direction
}

// DefaultSort is price, highest first.
var DefaultSort = Sort{Field: SortPrice, Direction: Desc}

// ParseSort validates a user supplied sort. Blank values fall back to
// DefaultSort; any direction other than "asc" sorts descending.
func ParseSort(field, direction string) (Sort, error) {
	s := DefaultSort
	if field != "" {
		s.Field = SortField(field)
	}
	if !s.Field.Valid() {
		return Sort{}, &ValidationError{Field: "sortBy", Message: "Unsupported sort field: " + field}
	}
	if strings.EqualFold(direction, string(Asc)) {
		s.Direction = Asc
	} else {
		s.Direction = Desc
	}
	return s, nil
}

// =============================================================================
// PAGING
// =============================================================================

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageRequest is a zero-based page index and a page size.
// A zero Size means unpaged.
type PageRequest struct {
	Index int
	Size  int
}

func NewPageRequest(index, size int) (PageRequest, error) {
	if index < 0 {
		return PageRequest{}, &ValidationError{Field: "page", Message: "Page index must not be negative"}
	}
	if size < 1 || size > MaxPageSize {
		return PageRequest{}, &ValidationError{Field: "size", Message: "Page size must be between 1 and 100"}
	}
	if index > math.MaxInt32/size {
		return PageRequest{}, &ValidationError{Field: "page", Message: "Page index is too large"}
	}
	return PageRequest{Index: index, Size: size}, nil
}

// Offset saturates at math.MaxInt instead of overflowing.
func (p PageRequest) Offset() int {
	if p.Size > 0 && p.Index > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return p.Index * p.Size
}

func (p PageRequest) Unpaged() bool { return p.Size == 0 }

// VoucherPage is one page of a query result.
type VoucherPage struct {
	Items         []Voucher
	Page          int
	Size          int
	TotalElements int
	TotalPages    int
}

// NewVoucherPage fills the page counters from the total match count.
func NewVoucherPage(items []Voucher, p PageRequest, total int) VoucherPage {
	page := VoucherPage{Items: items, Page: p.Index, Size: p.Size, TotalElements: total}
	if p.Unpaged() {
		page.Size = total
		if total > 0 {
			page.TotalPages = 1
		}
		return page
	}
	page.TotalPages = (total + p.Size - 1) / p.Size
	return page
}

// =============================================================================
// VOUCHER QUERY - Explicit filter record translated by each store
// =============================================================================

// VoucherQuery selects vouchers. Zero-valued fields do not filter.
type VoucherQuery struct {
	Statuses     []VoucherStatus
	TourType     TourType
	TransferType TransferType
	HotelType    HotelType

	// Price filters on exact equality.
	Price *decimal.Decimal

	// MinPrice and MaxPrice apply only when both are set.
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal

	// DescriptionContains matches case-insensitively.
	DescriptionContains string

	OwnerUsername string

	// ExcludeHot hides every hot voucher.
	ExcludeHot bool

	// HotFirst places hot vouchers before the rest, then applies Sort.
	HotFirst bool

	Sort Sort
	Page PageRequest
}

// HasPriceRange reports whether the min/max pair is active.
func (q VoucherQuery) HasPriceRange() bool {
	return q.MinPrice != nil && q.MaxPrice != nil
}

// Matches reports whether v satisfies every filter of q.
// ownerUsername is the resolved username of v's owner ("" when unowned).
func (q VoucherQuery) Matches(v Voucher, ownerUsername string) bool {
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if v.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.TourType != "" && v.TourType != q.TourType {
		return false
	}
	if q.TransferType != "" && v.TransferType != q.TransferType {
		return false
	}
	if q.HotelType != "" && v.HotelType != q.HotelType {
		return false
	}
	if q.Price != nil && !v.Price.Equal(*q.Price) {
		return false
	}
	if q.HasPriceRange() && (v.Price.LessThan(*q.MinPrice) || v.Price.GreaterThan(*q.MaxPrice)) {
		return false
	}
	if q.DescriptionContains != "" &&
		!strings.Contains(strings.ToLower(v.Description), strings.ToLower(q.DescriptionContains)) {
		return false
	}
	if q.OwnerUsername != "" && ownerUsername != q.OwnerUsername {
		return false
	}
	if q.ExcludeHot && v.IsHot {
		return false
	}
	return true
}

// Less orders a before b: hot first (when HotFirst), then Sort, then ID.
func (q VoucherQuery) Less(a, b Voucher) bool {
	if q.HotFirst && a.IsHot != b.IsHot {
		return a.IsHot
	}
	s := q.Sort
	if s.Field == "" {
		s = DefaultSort
	}
	if c := compareField(a, b, s.Field); c != 0 {
		if s.Direction == Asc {
			return c < 0
		}
		return c > 0
	}
	return a.ID.String() < b.ID.String()
}

func compareField(a, b Voucher, f SortField) int {
	switch f {
	case SortPrice:
		return a.Price.Cmp(b.Price)
	case SortTitle:
		return strings.Compare(a.Title, b.Title)
	case SortDescription:
		return strings.Compare(a.Description, b.Description)
	case SortArrivalDate:
		return a.ArrivalDate.Time.Compare(b.ArrivalDate.Time)
	case SortEvictionDate:
		return a.EvictionDate.Time.Compare(b.EvictionDate.Time)
	case SortTourType:
		return strings.Compare(string(a.TourType), string(b.TourType))
	case SortTransferType:
		return strings.Compare(string(a.TransferType), string(b.TransferType))
	case SortHotelType:
		return strings.Compare(string(a.HotelType), string(b.HotelType))
	case SortStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	}
	return 0
}
