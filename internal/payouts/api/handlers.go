package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"marketpay/internal/common/api"
	"marketpay/internal/common/database"
	"marketpay/internal/common/middleware"
	"marketpay/internal/payouts"
	"marketpay/internal/payouts/domain"
)

// Handler handles payout HTTP requests
type Handler struct {
	service *payouts.Service
}

// NewHandler creates a new payout handler
func NewHandler(service *payouts.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payout routes. The upstream gateway authenticates
// requests; handlers only check the resolved actor and role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequireActor)

	// Balance routes
	r.With(middleware.RequireAdmin).Get("/balances", h.ListBalances)
	r.Get("/balances/{vendorID}", h.GetBalance)

	// Bank account routes
	r.Post("/bank-accounts", h.CreateBankAccount)
	r.Get("/bank-accounts", h.ListBankAccounts)
	r.Post("/bank-accounts/{id}/activate", h.ActivateBankAccount)
	r.Delete("/bank-accounts/{id}", h.RemoveBankAccount)
	r.With(middleware.RequireAdmin).Post("/bank-accounts/{id}/verify", h.VerifyBankAccount)
	r.With(middleware.RequireAdmin).Post("/bank-accounts/{id}/unverify", h.UnverifyBankAccount)

	// Payout routes
	r.Post("/payouts", h.CreatePayout)
	r.Get("/payouts", h.ListPayouts)
	r.Get("/payouts/{id}", h.GetPayout)
	r.Post("/payouts/{id}/cancel", h.CancelPayout)
	r.With(middleware.RequireAdmin).Post("/payouts/{id}/execute", h.ExecutePayout)

	// Policy and batch routes
	r.With(middleware.RequireAdmin).Get("/config", h.GetConfig)
	r.With(middleware.RequireAdmin).Put("/config", h.UpdateConfig)
	r.With(middleware.RequireAdmin).Post("/dispersions", h.DisperseAll)

	return r
}

// writeServiceError maps service errors to API responses
func writeServiceError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case database.IsNotFound(err):
		api.NotFound(w, notFoundMsg)
	case errors.Is(err, domain.ErrIneligible):
		api.Ineligible(w, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		api.InvalidState(w, err.Error())
	case errors.Is(err, database.ErrConflict):
		api.Conflict(w, err.Error())
	default:
		api.InternalError(w, "request failed")
	}
}

// vendorScope resolves which vendor a request acts on. Vendors are pinned to
// themselves; admins may target any vendor.
func vendorScope(r *http.Request, requested string) (string, bool) {
	actorID := middleware.GetActorID(r.Context())
	if middleware.IsAdmin(r.Context()) {
		if requested != "" {
			return requested, true
		}
		return actorID, true
	}
	if requested != "" && requested != actorID {
		return "", false
	}
	return actorID, true
}

// ListBalances handles GET /balances
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.service.ComputeAllBalances(r.Context())
	if err != nil {
		api.InternalError(w, "failed to compute balances")
		return
	}
	api.WriteData(w, http.StatusOK, balances)
}

// GetBalance handles GET /balances/{vendorID}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := vendorScope(r, chi.URLParam(r, "vendorID"))
	if !ok {
		api.Forbidden(w, "cannot access another vendor's balance")
		return
	}

	balance, err := h.service.ComputeBalance(r.Context(), vendorID)
	if err != nil {
		api.InternalError(w, "failed to compute balance")
		return
	}
	api.WriteData(w, http.StatusOK, balance)
}

// CreateBankAccountRequest is the API request for registering a bank account
type CreateBankAccountRequest struct {
	VendorID       string `json:"vendor_id"`
	BankName       string `json:"bank_name" validate:"required,max=255"`
	AccountType    string `json:"account_type" validate:"required,oneof=SAVINGS CHECKING"`
	AccountNumber  string `json:"account_number" validate:"required,max=64"`
	HolderName     string `json:"holder_name" validate:"required,max=255"`
	HolderDocument string `json:"holder_document" validate:"required,max=64"`
	DocumentType   string `json:"document_type" validate:"required,oneof=national-id foreign-id tax-id passport"`
}

// CreateBankAccount handles POST /bank-accounts
func (h *Handler) CreateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateBankAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	vendorID, ok := vendorScope(r, req.VendorID)
	if !ok {
		api.Forbidden(w, "cannot register an account for another vendor")
		return
	}

	account, err := h.service.CreateBankAccount(r.Context(), payouts.CreateBankAccountRequest{
		VendorID:       vendorID,
		BankName:       req.BankName,
		AccountType:    domain.AccountType(req.AccountType),
		AccountNumber:  req.AccountNumber,
		HolderName:     req.HolderName,
		HolderDocument: req.HolderDocument,
		DocumentType:   domain.DocumentType(req.DocumentType),
	})
	if err != nil {
		writeServiceError(w, err, "vendor not found")
		return
	}

	api.WriteData(w, http.StatusCreated, account)
}

// ListBankAccounts handles GET /bank-accounts
func (h *Handler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := vendorScope(r, r.URL.Query().Get("vendor_id"))
	if !ok {
		api.Forbidden(w, "cannot list another vendor's accounts")
		return
	}

	accounts, err := h.service.ListBankAccounts(r.Context(), vendorID)
	if err != nil {
		api.InternalError(w, "failed to list bank accounts")
		return
	}
	api.WriteData(w, http.StatusOK, accounts)
}

// ActivateBankAccount handles POST /bank-accounts/{id}/activate
func (h *Handler) ActivateBankAccount(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := vendorScope(r, r.URL.Query().Get("vendor_id"))
	if !ok {
		api.Forbidden(w, "cannot activate another vendor's account")
		return
	}

	account, err := h.service.SetActiveBankAccount(r.Context(), vendorID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "bank account not found")
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

// RemoveBankAccount handles DELETE /bank-accounts/{id}
func (h *Handler) RemoveBankAccount(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := vendorScope(r, r.URL.Query().Get("vendor_id"))
	if !ok {
		api.Forbidden(w, "cannot remove another vendor's account")
		return
	}

	if err := h.service.RemoveBankAccount(r.Context(), vendorID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, "bank account not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyBankAccount handles POST /bank-accounts/{id}/verify
func (h *Handler) VerifyBankAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.VerifyBankAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "bank account not found")
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

// UnverifyBankAccount handles POST /bank-accounts/{id}/unverify
func (h *Handler) UnverifyBankAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.UnverifyBankAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "bank account not found")
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

// CreatePayoutRequest is the API request for creating a payout
type CreatePayoutRequest struct {
	VendorID string `json:"vendor_id"`
}

// CreatePayout handles POST /payouts
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req CreatePayoutRequest
	// The body is optional for vendors acting on themselves, but when one is
	// sent it has to parse.
	if err := api.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.ValidationError(w, err)
		return
	}

	vendorID, ok := vendorScope(r, req.VendorID)
	if !ok {
		api.Forbidden(w, "cannot create a payout for another vendor")
		return
	}

	payout, err := h.service.CreatePayout(r.Context(), vendorID)
	if err != nil {
		writeServiceError(w, err, "vendor not found")
		return
	}
	api.WriteData(w, http.StatusCreated, payout)
}

// ListPayouts handles GET /payouts
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Query().Get("vendor_id")

	var vendorID string
	if middleware.IsAdmin(r.Context()) {
		vendorID = requested // empty lists all vendors
	} else {
		var ok bool
		vendorID, ok = vendorScope(r, requested)
		if !ok {
			api.Forbidden(w, "cannot list another vendor's payouts")
			return
		}
	}

	params := api.GetPaginationParams(r, 50, 100)
	list, total, err := h.service.ListPayouts(r.Context(), vendorID, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to list payouts")
		return
	}

	api.WritePaginated(w, list, &api.Pagination{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasMore: int64(params.Offset+len(list)) < total,
	})
}

// GetPayout handles GET /payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.service.GetPayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "payout not found")
		return
	}

	if !middleware.IsAdmin(r.Context()) && payout.VendorID != middleware.GetActorID(r.Context()) {
		api.NotFound(w, "payout not found")
		return
	}
	api.WriteData(w, http.StatusOK, payout)
}

// ExecutePayout handles POST /payouts/{id}/execute
func (h *Handler) ExecutePayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.service.ExecutePayout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "payout not found")
		return
	}
	api.WriteData(w, http.StatusOK, payout)
}

// CancelPayout handles POST /payouts/{id}/cancel
func (h *Handler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !middleware.IsAdmin(r.Context()) {
		existing, err := h.service.GetPayout(r.Context(), id)
		if err != nil {
			writeServiceError(w, err, "payout not found")
			return
		}
		if existing.VendorID != middleware.GetActorID(r.Context()) {
			api.NotFound(w, "payout not found")
			return
		}
	}

	payout, err := h.service.CancelPayout(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "payout not found")
		return
	}
	api.WriteData(w, http.StatusOK, payout)
}

// GetConfig handles GET /config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetDispersionConfig(r.Context())
	if err != nil {
		api.InternalError(w, "failed to load dispersion config")
		return
	}
	api.WriteData(w, http.StatusOK, cfg)
}

// UpdateConfig handles PUT /config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req payouts.UpdateDispersionConfigRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	cfg, err := h.service.UpdateDispersionConfig(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			api.ValidationError(w, err)
			return
		}
		api.InternalError(w, "failed to update dispersion config")
		return
	}
	api.WriteData(w, http.StatusOK, cfg)
}

// DisperseAll handles POST /dispersions
func (h *Handler) DisperseAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.DisperseAll(r.Context())
	if err != nil {
		api.InternalError(w, "batch dispersion failed")
		return
	}
	api.WriteData(w, http.StatusOK, report)
}
