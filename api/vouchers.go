package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

// BrowseCatalog returns one page of REGISTERED vouchers, hot first. Anonymous
// callers are allowed; an inactive caller does not see hot vouchers.
// GET /api/vouchers/catalog
func (h *Handler) BrowseCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := parsePage(q, market.DefaultPageSize)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	sort, err := market.ParseSort(q.Get("sortBy"), q.Get("direction"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var filter market.CatalogFilter
	filter.Description = q.Get("description")
	if filter.TourType, filter.TransferType, filter.HotelType, err = parseTypes(q); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if filter.MinPrice, err = parseDecimal(q, "minPrice"); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if filter.MaxPrice, err = parseDecimal(q, "maxPrice"); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var viewer string
	if p := PrincipalFrom(r.Context()); p != nil {
		viewer = p.Username
	}
	result, err := h.Catalog.Browse(r.Context(), filter, viewer, page, sort)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCatalogResponse(result))
}

// MyVouchers returns the caller's vouchers.
// GET /api/vouchers/my
func (h *Handler) MyVouchers(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	vouchers, err := h.Vouchers.FindMyVouchers(r.Context(), p.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTOs(vouchers), "User vouchers"))
}

// GetVoucher returns a single voucher.
// GET /api/vouchers/{id}
func (h *Handler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.Vouchers.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Voucher found"))
}

// OrderVoucher buys a voucher for the caller.
// POST /api/vouchers/order/{id}
func (h *Handler) OrderVoucher(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	v, err := h.Vouchers.Order(r.Context(), chi.URLParam(r, "id"), p.UserID.String())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Voucher successfully ordered"))
}

// RequestCancellation asks an admin to cancel the caller's voucher.
// PATCH /api/vouchers/{id}/cancel
func (h *Handler) RequestCancellation(w http.ResponseWriter, r *http.Request) {
	var req CancellationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	p := PrincipalFrom(r.Context())
	v, err := h.Vouchers.RequestCancellation(r.Context(), chi.URLParam(r, "id"), p.Username, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Cancellation requested"))
}

// =============================================================================
// ADMIN / MANAGER ENDPOINTS
// =============================================================================

// AllVouchers lists every voucher.
// GET /api/vouchers/all
func (h *Handler) AllVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Vouchers.FindAll(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTOs(vouchers), "All vouchers"))
}

// CanceledVouchers lists vouchers in CANCELED status.
// GET /api/vouchers/canceled
func (h *Handler) CanceledVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Vouchers.FindCanceled(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTOs(vouchers), "Canceled vouchers"))
}

// SearchVouchers lists vouchers with the full store filter set.
// Without a size parameter the result is unpaged.
// GET /api/vouchers?status=PAID,CANCELED&tourType=...&username=...
func (h *Handler) SearchVouchers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		query market.VoucherQuery
		err   error
	)
	if q.Get("size") != "" {
		if query.Page, err = parsePage(q, market.DefaultPageSize); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	if query.Sort, err = market.ParseSort(q.Get("sortBy"), q.Get("direction")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s := market.VoucherStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !s.Valid() {
				h.writeDomainError(w, r, &market.ValidationError{Field: "status", Message: fmt.Sprintf("Unknown status: %s", part)})
				return
			}
			query.Statuses = append(query.Statuses, s)
		}
	}
	if query.TourType, query.TransferType, query.HotelType, err = parseTypes(q); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	for name, dst := range map[string]**decimal.Decimal{
		"price":    &query.Price,
		"minPrice": &query.MinPrice,
		"maxPrice": &query.MaxPrice,
	} {
		if *dst, err = parseDecimal(q, name); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	}
	query.DescriptionContains = strings.TrimSpace(q.Get("description"))
	query.OwnerUsername = q.Get("username")

	result, err := h.Vouchers.Find(r.Context(), query)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toCatalogResponse(result), "Vouchers found"))
}

// CreateVoucher adds a voucher to the catalog.
// POST /api/vouchers/create
func (h *Handler) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if errs := validateVoucher(req); !errs.empty() {
		writeFieldErrors(w, errs)
		return
	}

	v, err := h.Vouchers.Create(r.Context(), req.spec())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok(toVoucherDTO(v), "Voucher is successfully created"))
}

// UpdateVoucher applies a partial update to descriptive fields.
// PATCH /api/vouchers/{id}
func (h *Handler) UpdateVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	v, err := h.Vouchers.Update(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Voucher is successfully updated"))
}

// DeleteVoucher removes a voucher.
// DELETE /api/vouchers/{id}
func (h *Handler) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Vouchers.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil, fmt.Sprintf("Voucher with Id %s has been deleted", id)))
}

// ChangeHotStatus sets or clears the hot flag.
// PATCH /api/vouchers/{id}/status
func (h *Handler) ChangeHotStatus(w http.ResponseWriter, r *http.Request) {
	var req HotStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.IsHot == nil {
		writeFieldErrors(w, fieldErrors{"isHot": "Hot status is required"})
		return
	}

	v, err := h.Vouchers.ChangeHotStatus(r.Context(), chi.URLParam(r, "id"), *req.IsHot)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Voucher status is successfully changed"))
}

// DecideCancellation approves (refund) or rejects a pending cancellation.
// PATCH /api/vouchers/{id}/cancel/decision
func (h *Handler) DecideCancellation(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	p := PrincipalFrom(r.Context())
	v, err := h.Vouchers.DecideCancellation(r.Context(), chi.URLParam(r, "id"), req.Approved, p.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	message := "Cancellation rejected"
	if req.Approved {
		message = "Cancellation approved"
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), message))
}

// ReregisterVoucher puts a CANCELED voucher back on sale.
// PATCH /api/vouchers/{id}/reregister
func (h *Handler) ReregisterVoucher(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	v, err := h.Vouchers.ReregisterVoucher(r.Context(), chi.URLParam(r, "id"), p.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(toVoucherDTO(v), "Voucher is registered again"))
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func parsePage(q url.Values, defaultSize int) (market.PageRequest, error) {
	index, size := 0, defaultSize
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return market.PageRequest{}, &market.ValidationError{Field: "page", Message: "Page must be a number"}
		}
		index = n
	}
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return market.PageRequest{}, &market.ValidationError{Field: "size", Message: "Size must be a number"}
		}
		size = n
	}
	return market.NewPageRequest(index, size)
}

func parseDecimal(q url.Values, name string) (*decimal.Decimal, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &market.ValidationError{Field: name, Message: fmt.Sprintf("Invalid %s: %s", name, raw)}
	}
	return &d, nil
}

// parseTypes reads the three classification filters. Values are
// case-insensitive; unknown values are rejected.
func parseTypes(q url.Values) (market.TourType, market.TransferType, market.HotelType, error) {
	tour := market.TourType(strings.ToUpper(q.Get("tourType")))
	if tour != "" && !tour.Valid() {
		return "", "", "", &market.ValidationError{Field: "tourType", Message: "Unknown tour type: " + q.Get("tourType")}
	}
	transfer := market.TransferType(strings.ToUpper(q.Get("transferType")))
	if transfer != "" && !transfer.Valid() {
		return "", "", "", &market.ValidationError{Field: "transferType", Message: "Unknown transfer type: " + q.Get("transferType")}
	}
	hotel := market.HotelType(strings.ToUpper(q.Get("hotelType")))
	if hotel != "" && !hotel.Valid() {
		return "", "", "", &market.ValidationError{Field: "hotelType", Message: "Unknown hotel type: " + q.Get("hotelType")}
	}
	return tour, transfer, hotel, nil
}
