/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the points engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates everything else to the engine.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                 Open a user or partner account

  User (X-User-Role: USER):
    POST   /api/user/scan                Self-service scan, credited at once
    POST   /api/user/generate-qr         Issue a code for a partner to redeem
    GET    /api/user/wallet?userId=      Balance and codes, newest first
    POST   /api/user/redeem              Spend points on a catalog reward
    GET    /api/user/leaderboard         Top 10 users by balance
    GET    /api/user/rewards             Reward catalog
    GET    /api/user/partners            Partner hubs
    POST   /api/user/request-pickup      Ask for an item to be collected

  Partner (X-User-Role: PARTNER):
    POST   /api/partner/scan-qr          Redeem a code
    GET    /api/partner/transactions     Codes this partner redeemed
    GET    /api/partner/earnings         Total plus 7-day and 6-month series
    POST   /api/partner/request-bin-pickup
    GET    /api/partner/bin-status       Current bin fill level
    POST   /api/partner/bin-level        Report the bin fill level

  Admin (X-User-Role: ADMIN):
    GET    /api/admin/analytics          Overview report
    GET    /api/admin/users
    GET    /api/admin/partners
    GET    /api/admin/bins               Partner hubs with their bin levels
    GET    /api/admin/pickups
    PUT    /api/admin/update-pickup
    POST   /api/admin/seed               Load the demo dataset

ERROR HANDLING:
  Every failure is written by writeError as {"kind", "error"} with the
  status derived from the error Kind:
  - 400: INVALID_REQUEST
  - 404: *_NOT_FOUND
  - 409: ALREADY_REDEEMED
  - 422: INSUFFICIENT_BALANCE
  - 503: STORAGE_UNAVAILABLE
  - 500: INTERNAL

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ecosync/rewards-engine/logger"
	"github.com/ecosync/rewards-engine/pickup"
	"github.com/ecosync/rewards-engine/points"
	"github.com/ecosync/rewards-engine/rewards"
	"github.com/ecosync/rewards-engine/seed"
)

const (
	leaderboardSize = 10
	maxBodyBytes    = 1 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       points.Store
	Ledger      *points.Ledger
	Registry    *points.Registry
	Coordinator *points.Coordinator
	Reporter    *points.Reporter
	Rewards     *rewards.Service
	Pickups     *pickup.Service
	Seeder      *seed.Loader
	Log         zerolog.Logger

	// Health is consulted by /healthz when the store supports it.
	Health interface{ Ping(ctx context.Context) error }

	Now func() time.Time
}

// NewHandler wires the engine components over one store.
func NewHandler(store points.Store, table rewards.CategoryTable, selector rewards.Selector, log zerolog.Logger) *Handler {
	ledger := points.NewLedger(store)
	registry := points.NewRegistry(store, ledger)
	coordinator := points.NewCoordinator(registry, ledger)
	coordinator.Log = log

	rw := rewards.NewService(registry, ledger, store, table, selector)
	rw.Log = log
	pk := pickup.NewService(store)
	pk.Log = log
	sd := seed.NewLoader(ledger)
	sd.Log = log

	h := &Handler{
		Store:       store,
		Ledger:      ledger,
		Registry:    registry,
		Coordinator: coordinator,
		Reporter:    points.NewReporter(store),
		Rewards:     rw,
		Pickups:     pk,
		Seeder:      sd,
		Log:         log,
		Now:         func() time.Time { return time.Now().UTC() },
	}
	if p, ok := store.(interface{ Ping(ctx context.Context) error }); ok {
		h.Health = p
	}
	return h
}

// SetObserver routes issuance and redemption outcomes to o.
func (h *Handler) SetObserver(o points.Observer) {
	h.Registry.Observer = o
	h.Coordinator.Observer = o
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// OpenAccount creates a zero-balance user or partner.
// POST /api/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := h.Ledger.OpenAccount(r.Context(), points.AccountKind(req.Kind), req.Name, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

// Healthz reports whether the store is reachable.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, r, points.Unavailable(err, "ping"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Scan credits the user for one scanned item.
// POST /api/user/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Rewards.Scan(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{
		Category:         res.Category,
		PointsAwarded:    res.PointsAwarded,
		ResultingBalance: res.Balance,
		Code:             res.Code,
	})
}

// GenerateQR issues a zero-value code for a partner to redeem.
// POST /api/user/generate-qr
func (h *Handler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code, err := h.Rewards.GenerateCode(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, GenerateQRResponse{Code: code.Code})
}

// Wallet returns the user's balance and codes.
// GET /api/user/wallet?userId=
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Reporter.Wallet(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{
		Balance:      wallet.Balance,
		Transactions: toCodeDTOs(wallet.Codes),
	})
}

// RedeemReward spends points on a catalog item.
// POST /api/user/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	var req RedeemRewardRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bal, err := h.Rewards.RedeemCatalogItem(r.Context(), req.UserID, req.RewardID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: bal})
}

// Leaderboard returns the top users by balance.
// GET /api/user/leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	top, err := h.Reporter.TopN(r.Context(), points.AccountUser, leaderboardSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(top))
}

// ListRewards returns the catalog, cheapest first.
// GET /api/user/rewards
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	items, err := h.Rewards.Rewards(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]RewardDTO, len(items))
	for i, it := range items {
		dtos[i] = RewardDTO{
			ID:             it.ID,
			Title:          it.Title,
			Description:    it.Description,
			PointsRequired: it.PointsRequired,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPartners returns every partner hub.
// GET /api/user/partners, GET /api/admin/partners
func (h *Handler) ListPartners(w http.ResponseWriter, r *http.Request) {
	h.listAccounts(w, r, points.AccountPartner)
}

// ListUsers returns every user.
// GET /api/admin/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.listAccounts(w, r, points.AccountUser)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request, kind points.AccountKind) {
	accounts, err := h.Store.ListAccounts(r.Context(), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accounts))
}

// RequestPickup asks for an item to be collected from the user.
// POST /api/user/request-pickup
func (h *Handler) RequestPickup(w http.ResponseWriter, r *http.Request) {
	var req PickupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Pickups.Create(r.Context(), pickup.Request{
		RequestedBy: req.UserID,
		Role:        points.AccountUser,
		Item:        req.Item,
		Weight:      req.Weight,
		Address:     req.Address,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPickupDTO(p))
}

// =============================================================================
// PARTNER HANDLERS
// =============================================================================

// ScanQR redeems a code on behalf of a partner.
// POST /api/partner/scan-qr
func (h *Handler) ScanQR(w http.ResponseWriter, r *http.Request) {
	var req ScanQRRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Coordinator.Redeem(r.Context(), points.RedeemRequest{
		Code:           req.Code,
		PartnerID:      req.PartnerID,
		PointsOverride: req.Points,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScanQRResponse{
		PointsAwarded:        res.PointsAwarded,
		ResultingUserBalance: res.UserBalance,
		PartnerEarnings:      res.PartnerEarnings,
	})
}

// PartnerTransactions lists codes the partner redeemed, newest first.
// GET /api/partner/transactions?partnerId=
func (h *Handler) PartnerTransactions(w http.ResponseWriter, r *http.Request) {
	partnerID := r.URL.Query().Get("partnerId")
	if partnerID == "" {
		writeError(w, r, errors.Wrap(points.ErrInvalidRequest, "partnerId is required"))
		return
	}
	codes, err := h.Registry.ListByPartner(r.Context(), partnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCodeDTOs(codes))
}

// Earnings returns the partner's total and its trailing series.
// GET /api/partner/earnings?partnerId=
func (h *Handler) Earnings(w http.ResponseWriter, r *http.Request) {
	e, err := h.Reporter.PartnerEarnings(r.Context(), r.URL.Query().Get("partnerId"), h.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EarningsResponse{
		Total:   e.Total,
		Weekly:  toBucketDTOs(e.Weekly),
		Monthly: toBucketDTOs(e.Monthly),
	})
}

// RequestBinPickup asks for the partner's drop-off bin to be emptied.
// POST /api/partner/request-bin-pickup
func (h *Handler) RequestBinPickup(w http.ResponseWriter, r *http.Request) {
	var req BinPickupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Pickups.RequestBin(r.Context(), req.PartnerID, req.Address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPickupDTO(p))
}

// BinStatus returns the partner's bin fill level.
// GET /api/partner/bin-status?partnerId=
func (h *Handler) BinStatus(w http.ResponseWriter, r *http.Request) {
	partnerID := r.URL.Query().Get("partnerId")
	level, err := h.Pickups.BinStatus(r.Context(), partnerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BinStatusResponse{PartnerID: partnerID, BinFillLevel: level})
}

// ReportBinLevel records the partner's bin fill level.
// POST /api/partner/bin-level
func (h *Handler) ReportBinLevel(w http.ResponseWriter, r *http.Request) {
	var req BinLevelRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Pickups.ReportBinLevel(r.Context(), req.PartnerID, req.BinFillLevel)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BinStatusResponse{PartnerID: a.ID, BinFillLevel: a.BinFillLevel})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Analytics returns the admin overview report.
// GET /api/admin/analytics
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	o, err := h.Reporter.Overview(r.Context(), h.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsResponse(o))
}

// ListPickups returns every pickup request, newest first.
// GET /api/admin/pickups
func (h *Handler) ListPickups(w http.ResponseWriter, r *http.Request) {
	items, err := h.Pickups.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]PickupDTO, len(items))
	for i, p := range items {
		dtos[i] = toPickupDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdatePickup sets a pickup request's status.
// PUT /api/admin/update-pickup
func (h *Handler) UpdatePickup(w http.ResponseWriter, r *http.Request) {
	var req UpdatePickupRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.Pickups.UpdateStatus(r.Context(), req.PickupID, points.PickupStatus(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPickupDTO(p))
}

// Seed loads the demo dataset into an empty store.
// POST /api/admin/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Seeder.Load(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(points.ErrInvalidRequest, "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error Kind to its HTTP status.
func statusFor(kind points.Kind) int {
	switch kind {
	case points.KindInvalidRequest:
		return http.StatusBadRequest
	case points.KindCodeNotFound, points.KindBeneficiaryNotFound, points.KindPartnerNotFound,
		points.KindAccountNotFound, points.KindRewardNotFound, points.KindPickupNotFound:
		return http.StatusNotFound
	case points.KindAlreadyRedeemed:
		return http.StatusConflict
	case points.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case points.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := points.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log := logger.FromContext(r.Context(), logger.Nop())
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Kind: string(kind), Error: msg})
}
