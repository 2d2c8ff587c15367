/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the points engine's model from the external contract. Field names are
  camelCase; timestamps are RFC 3339 in UTC; weights are decimal strings.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Composite response wrappers

TYPES:
  User:      ScanRequest, ScanResponse, GenerateQRResponse, WalletResponse,
             RedeemRewardRequest, BalanceResponse
  Partner:   ScanQRRequest, ScanQRResponse, EarningsResponse, BinPickupRequest,
             BinLevelRequest, BinStatusResponse
  Admin:     AnalyticsResponse, UpdatePickupRequest
  Shared:    CodeDTO, AccountDTO, RewardDTO, PickupDTO, BucketDTO, ErrorResponse

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecosync/rewards-engine/points"
)

// =============================================================================
// SHARED
// =============================================================================

// CodeDTO represents a transaction code in API responses.
type CodeDTO struct {
	Code       string  `json:"code"`
	UserID     string  `json:"userId"`
	PartnerID  string  `json:"partnerId,omitempty"`
	Points     int64   `json:"points"`
	State      string  `json:"state"`
	Category   string  `json:"category,omitempty"`
	IssuedAt   string  `json:"issuedAt"`
	RedeemedAt *string `json:"redeemedAt,omitempty"`
}

func toCodeDTO(c points.TransactionCode) CodeDTO {
	dto := CodeDTO{
		Code:      c.Code,
		UserID:    c.BeneficiaryUserID,
		PartnerID: c.RedeemingPartnerID,
		Points:    c.PointsAwarded,
		State:     string(c.State),
		Category:  c.Category,
		IssuedAt:  formatTime(c.IssuedAt),
	}
	if c.RedeemedAt != nil {
		at := formatTime(*c.RedeemedAt)
		dto.RedeemedAt = &at
	}
	return dto
}

func toCodeDTOs(codes []points.TransactionCode) []CodeDTO {
	out := make([]CodeDTO, len(codes))
	for i, c := range codes {
		out[i] = toCodeDTO(c)
	}
	return out
}

// AccountDTO represents a user or partner. Balance is points for users and
// earnings for partners.
type AccountDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"createdAt"`

	BinFillLevel *int `json:"binFillLevel,omitempty"` // partners only
}

func toAccountDTOs(accounts []points.Account) []AccountDTO {
	out := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		out[i] = toAccountDTO(a)
	}
	return out
}

func toAccountDTO(a points.Account) AccountDTO {
	dto := AccountDTO{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Name:      a.Name,
		Email:     a.Email,
		Balance:   a.Balance,
		CreatedAt: formatTime(a.CreatedAt),
	}
	if a.Kind == points.AccountPartner {
		level := a.BinFillLevel
		dto.BinFillLevel = &level
	}
	return dto
}

// OpenAccountRequest creates a zero-balance account.
type OpenAccountRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type RewardDTO struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	PointsRequired int64  `json:"pointsRequired"`
}

type PickupDTO struct {
	ID          string          `json:"id"`
	RequestedBy string          `json:"requestedBy"`
	Role        string          `json:"role"`
	Item        string          `json:"item"`
	Weight      decimal.Decimal `json:"weight"`
	Address     string          `json:"address"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"createdAt"`
}

func toPickupDTO(p points.Pickup) PickupDTO {
	return PickupDTO{
		ID:          p.ID,
		RequestedBy: p.RequestedBy,
		Role:        string(p.Role),
		Item:        p.Item,
		Weight:      p.Weight,
		Address:     p.Address,
		Status:      string(p.Status),
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

// BucketDTO is one labelled total in a time series.
type BucketDTO struct {
	Label string `json:"label"`
	Total int64  `json:"total"`
}

func toBucketDTOs(buckets []points.Bucket) []BucketDTO {
	out := make([]BucketDTO, len(buckets))
	for i, b := range buckets {
		out[i] = BucketDTO{Label: b.Label, Total: b.Total}
	}
	return out
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// =============================================================================
// USER
// =============================================================================

type ScanRequest struct {
	UserID string `json:"userId"`
}

type ScanResponse struct {
	Category         string `json:"category"`
	PointsAwarded    int64  `json:"pointsAwarded"`
	ResultingBalance int64  `json:"resultingBalance"`
	Code             string `json:"code"`
}

type GenerateQRResponse struct {
	Code string `json:"code"`
}

type WalletResponse struct {
	Balance      int64     `json:"balance"`
	Transactions []CodeDTO `json:"transactions"`
}

type RedeemRewardRequest struct {
	UserID   string `json:"userId"`
	RewardID string `json:"rewardId"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// PickupRequest asks for an item to be collected from a user's address.
type PickupRequest struct {
	UserID  string          `json:"userId"`
	Item    string          `json:"item"`
	Weight  decimal.Decimal `json:"weight"`
	Address string          `json:"address"`
}

// =============================================================================
// PARTNER
// =============================================================================

// ScanQRRequest redeems a code. Points <= 0 or absent means the default award.
type ScanQRRequest struct {
	Code      string `json:"code"`
	PartnerID string `json:"partnerId"`
	Points    int64  `json:"points,omitempty"`
}

type ScanQRResponse struct {
	PointsAwarded        int64 `json:"pointsAwarded"`
	ResultingUserBalance int64 `json:"resultingUserBalance"`
	PartnerEarnings      int64 `json:"partnerEarnings"`
}

type EarningsResponse struct {
	Total   int64       `json:"total"`
	Weekly  []BucketDTO `json:"weekly"`
	Monthly []BucketDTO `json:"monthly"`
}

type BinPickupRequest struct {
	PartnerID string `json:"partnerId"`
	Address   string `json:"address"`
}

// BinLevelRequest reports how full a partner's drop-off bin is, in percent.
type BinLevelRequest struct {
	PartnerID    string `json:"partnerId"`
	BinFillLevel int    `json:"binFillLevel"`
}

type BinStatusResponse struct {
	PartnerID    string `json:"partnerId"`
	BinFillLevel int    `json:"binFillLevel"`
}

// =============================================================================
// ADMIN
// =============================================================================

type CategoryDTO struct {
	Label  string          `json:"label"`
	Weight decimal.Decimal `json:"weight"`
}

type AnalyticsResponse struct {
	TotalUsers    int             `json:"totalUsers"`
	TotalPartners int             `json:"totalPartners"`
	TotalWaste    decimal.Decimal `json:"totalWaste"`
	TotalRevenue  int64           `json:"totalRevenue"`
	Monthly       []BucketDTO     `json:"monthly"`
	Categories    []CategoryDTO   `json:"categories"`
	TopUsers      []AccountDTO    `json:"topUsers"`
	TopPartners   []AccountDTO    `json:"topPartners"`
}

func toAnalyticsResponse(o points.Overview) AnalyticsResponse {
	cats := make([]CategoryDTO, len(o.Categories))
	for i, c := range o.Categories {
		cats[i] = CategoryDTO{Label: c.Label, Weight: c.Weight}
	}
	return AnalyticsResponse{
		TotalUsers:    o.TotalUsers,
		TotalPartners: o.TotalPartners,
		TotalWaste:    o.TotalWaste,
		TotalRevenue:  o.TotalRevenue,
		Monthly:       toBucketDTOs(o.Monthly),
		Categories:    cats,
		TopUsers:      toAccountDTOs(o.TopUsers),
		TopPartners:   toAccountDTOs(o.TopPartners),
	}
}

type UpdatePickupRequest struct {
	PickupID string `json:"pickupId"`
	Status   string `json:"status"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
