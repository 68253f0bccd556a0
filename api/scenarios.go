/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos and manual testing. Every record is created through the
	market engines, so scenario data obeys the same rules as live traffic
	and shows up in the metrics.

AVAILABLE SCENARIOS:

	basic-catalog:      A dozen REGISTERED vouchers, two funded customers
	hot-deals:          Hot vouchers plus an inactive customer who cannot see them
	cancellation-queue: Paid vouchers, pending cancellations, a CANCELED voucher

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Run AfterReset (re-creates the bootstrap admin)
 3. Register customers and top up their balances with a demo card
 4. Create vouchers
 5. Optionally order and cancel vouchers

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "hot-deals"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loaderFor

NOTE:

	Scenarios reset the store. Only use in development/demo environments.
	Demo customers share the password "password".

SEE ALSO:
  - handlers.go: Handler and AfterReset
  - cmd/server/main.go: SEED_SCENARIO at startup
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/voucher-market/market"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-catalog",
		Name:        "Basic Catalog",
		Description: "Twelve vouchers on sale across tour types, two funded customers",
		Category:    "catalog",
	},
	{
		ID:          "hot-deals",
		Name:        "Hot Deals",
		Description: "Hot vouchers sorted first; an inactive customer cannot see or buy them",
		Category:    "catalog",
	},
	{
		ID:          "cancellation-queue",
		Name:        "Cancellation Queue",
		Description: "Paid vouchers with pending cancellation requests and a canceled voucher to re-register",
		Category:    "lifecycle",
	},
}

const (
	demoPassword = "password"
	demoCard     = "4111111111111111"
	demoExpiry   = "12/99"
	demoCVV      = "123"
)

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, or null.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if h.loaderFor(req.ScenarioID) == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.Seed(r.Context(), req.ScenarioID); err != nil {
		h.Log.Error().Err(err).Str("scenario", req.ScenarioID).Msg("scenario load failed")
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.Log.Error().Err(err).Msg("reset failed")
		writeError(w, http.StatusInternalServerError, "Failed to reset database", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Seed resets the store and loads the named scenario.
func (h *Handler) Seed(ctx context.Context, scenarioID string) error {
	load := h.loaderFor(scenarioID)
	if load == nil {
		return fmt.Errorf("unknown scenario %q", scenarioID)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", scenarioID, err)
	}

	h.mu.Lock()
	h.currentScenario = scenarioID
	h.mu.Unlock()
	h.Log.Info().Str("scenario", scenarioID).Msg("scenario loaded")
	return nil
}

func (h *Handler) loaderFor(id string) func(context.Context) error {
	switch id {
	case "basic-catalog":
		return h.loadBasicCatalogScenario
	case "hot-deals":
		return h.loadHotDealsScenario
	case "cancellation-queue":
		return h.loadCancellationQueueScenario
	}
	return nil
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if h.AfterReset != nil {
		return h.AfterReset(ctx)
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicCatalogScenario(ctx context.Context) error {
	if _, err := h.seedCustomer(ctx, "alice", "Alice", "Walker", 2500); err != nil {
		return err
	}
	if _, err := h.seedCustomer(ctx, "bob", "Bob", "Fisher", 800); err != nil {
		return err
	}
	_, err := h.seedVouchers(ctx, catalogVouchers)
	return err
}

func (h *Handler) loadHotDealsScenario(ctx context.Context) error {
	if _, err := h.seedCustomer(ctx, "alice", "Alice", "Walker", 3000); err != nil {
		return err
	}
	carol, err := h.seedCustomer(ctx, "carol", "Carol", "Reyes", 3000)
	if err != nil {
		return err
	}
	if _, err := h.Accounts.ChangeUserActive(ctx, carol.ID.String(), false); err != nil {
		return err
	}

	vouchers, err := h.seedVouchers(ctx, catalogVouchers[:8])
	if err != nil {
		return err
	}
	// Every third voucher is a hot deal.
	for i := 0; i < len(vouchers); i += 3 {
		if _, err := h.Vouchers.ChangeHotStatus(ctx, vouchers[i].ID.String(), true); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadCancellationQueueScenario(ctx context.Context) error {
	alice, err := h.seedCustomer(ctx, "alice", "Alice", "Walker", 5000)
	if err != nil {
		return err
	}
	bob, err := h.seedCustomer(ctx, "bob", "Bob", "Fisher", 5000)
	if err != nil {
		return err
	}
	vouchers, err := h.seedVouchers(ctx, catalogVouchers[:6])
	if err != nil {
		return err
	}

	steps := []struct {
		buyer   *market.User
		voucher market.Voucher
		reason  string
	}{
		{alice, vouchers[0], "Flight was cancelled by the airline"},
		{alice, vouchers[1], ""},
		{bob, vouchers[2], "Family emergency"},
		{bob, vouchers[3], "Found a better deal"},
	}
	for _, s := range steps {
		if _, err := h.Vouchers.Order(ctx, s.voucher.ID.String(), s.buyer.ID.String()); err != nil {
			return err
		}
		if s.reason == "" {
			continue
		}
		if _, err := h.Vouchers.RequestCancellation(ctx, s.voucher.ID.String(), s.buyer.Username, s.reason); err != nil {
			return err
		}
	}

	// One request already approved: the voucher waits in CANCELED for re-registration.
	_, err = h.Vouchers.DecideCancellation(ctx, vouchers[3].ID.String(), true, "scenario")
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedCustomer(ctx context.Context, username, first, last string, balance int64) (*market.User, error) {
	user, err := h.Accounts.Register(ctx, market.Registration{
		Username:        username,
		Password:        demoPassword,
		ConfirmPassword: demoPassword,
		Email:           username + "@example.com",
		FirstName:       first,
		LastName:        last,
		PhoneNumber:     "+380501234567",
	})
	if err != nil {
		return nil, err
	}
	if balance > 0 {
		return h.Ledger.Deposit(ctx, username, decimal.NewFromInt(balance), demoCard, demoExpiry, demoCVV)
	}
	return user, nil
}

type seedVoucher struct {
	title    string
	desc     string
	price    string
	tour     market.TourType
	transfer market.TransferType
	hotel    market.HotelType
	offset   int // days from today until arrival
	nights   int
}

var catalogVouchers = []seedVoucher{
	{"Alpine Spa Retreat", "Thermal baths and mountain air in the Alps", "1450.00", market.TourHealth, market.TransferTrain, market.HotelFiveStars, 30, 7},
	{"Kenya Big Five", "Guided safari through Masai Mara", "2890.00", market.TourSafari, market.TransferPlane, market.HotelFourStars, 45, 10},
	{"Tuscany Vineyards", "Wine tasting across Chianti estates", "980.50", market.TourWine, market.TransferBus, market.HotelThreeStars, 20, 5},
	{"Iceland Ring Road", "Self-drive around glaciers and geysers", "1720.00", market.TourAdventure, market.TransferPrivateCar, market.HotelThreeStars, 60, 9},
	{"Kyoto Temples", "Cultural tour of shrines and tea houses", "1340.00", market.TourCultural, market.TransferPlane, market.HotelFourStars, 25, 6},
	{"Costa Rica Rainforest", "Eco lodges and canopy walks", "1190.00", market.TourEco, market.TransferJeeps, market.HotelTwoStars, 50, 8},
	{"Maldives Lagoon", "Overwater villa with full board", "3550.00", market.TourLeisure, market.TransferPlane, market.HotelFiveStars, 90, 7},
	{"Tour de Alps", "Cycling week with support minibus", "760.00", market.TourSports, market.TransferMinibus, market.HotelTwoStars, 35, 6},
	{"Norway Fjords Cruise", "Coastal cruise from Bergen to Tromso", "2100.00", market.TourLeisure, market.TransferShip, market.HotelFourStars, 70, 8},
	{"Carpathian Hiking", "Hut-to-hut trek in the mountains", "420.00", market.TourAdventure, market.TransferTrain, market.HotelOneStar, 15, 5},
	{"Tesla Coast Drive", "Electric car road trip along the Riviera", "1280.00", market.TourLeisure, market.TransferElectricalCars, market.HotelThreeStars, 40, 5},
	{"Dead Sea Wellness", "Mud therapy and salt baths", "890.00", market.TourHealth, market.TransferPlane, market.HotelFourStars, 55, 6},
}

func (h *Handler) seedVouchers(ctx context.Context, defs []seedVoucher) ([]market.Voucher, error) {
	today := market.DateOf(time.Now().UTC())
	created := make([]market.Voucher, 0, len(defs))
	for _, d := range defs {
		arrival := market.DateOf(today.Time.AddDate(0, 0, d.offset))
		v, err := h.Vouchers.Create(ctx, market.VoucherSpec{
			Title:        d.title,
			Description:  d.desc,
			Price:        decimal.RequireFromString(d.price),
			TourType:     d.tour,
			TransferType: d.transfer,
			HotelType:    d.hotel,
			ArrivalDate:  arrival,
			EvictionDate: market.DateOf(arrival.Time.AddDate(0, 0, d.nights)),
		})
		if err != nil {
			return nil, err
		}
		created = append(created, *v)
	}
	return created, nil
}
