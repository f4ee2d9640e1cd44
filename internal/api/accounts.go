package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/matching"
)

type accountRequest struct {
	Name               string             `json:"name"`
	Type               domain.AccountType `json:"type"`
	IsLinked           *bool              `json:"is_linked"`
	BankCode           *string            `json:"bank_code"`
	AccountNumberLast4 *string            `json:"account_number_last4"`
	LinkedSenderIDs    []string           `json:"linked_sender_ids"`
	Balance            decimal.Decimal    `json:"balance"`
	Color              string             `json:"color"`
}

func validAccountType(t domain.AccountType) bool {
	switch t {
	case domain.AccountBank, domain.AccountCreditCard, domain.AccountUPI, domain.AccountOther:
		return true
	}
	return false
}

func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = domain.AccountOther
	}
	if !validAccountType(req.Type) {
		writeError(w, http.StatusBadRequest, "invalid account type: "+string(req.Type))
		return
	}
	if req.AccountNumberLast4 != nil && len(*req.AccountNumberLast4) != 4 {
		writeError(w, http.StatusBadRequest, "account_number_last4 must be 4 digits")
		return
	}

	acc := &domain.Account{
		Name:               req.Name,
		Type:               req.Type,
		IsLinked:           req.IsLinked == nil || *req.IsLinked,
		AccountNumberLast4: req.AccountNumberLast4,
		LinkedSenderIDs:    req.LinkedSenderIDs,
		Balance:            req.Balance,
		Color:              req.Color,
	}
	if req.BankCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.BankCode))
		acc.BankCode = &code
		if acc.Color == "" {
			if bank, ok := h.deps.Directory.ByCode(code); ok {
				acc.Color = bank.Color
			}
		}
	}

	if err := h.deps.Accounts.Create(r.Context(), acc); err != nil {
		writeRepoError(w, r, err)
		return
	}
	created, err := h.deps.Accounts.GetByID(r.Context(), acc.ID)
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.deps.Accounts.List(r.Context())
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	// bank_code narrows the list to linked accounts of that bank.
	if code := strings.TrimSpace(r.URL.Query().Get("bank_code")); code != "" {
		accounts = matching.FindByBank(accounts, code)
		if accounts == nil {
			accounts = []domain.Account{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.deps.Accounts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type recurringRequest struct {
	AccountID   string               `json:"account_id"`
	Name        string               `json:"name"`
	Amount      decimal.Decimal      `json:"amount"`
	Type        domain.RecurringType `json:"type"`
	Frequency   domain.Frequency     `json:"frequency"`
	NextDueDate string               `json:"next_due_date"`
	IsActive    *bool                `json:"is_active"`
}

func (h *Handlers) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AccountID == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "account_id and name are required")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Type == "" {
		req.Type = domain.RecurringExpense
	}
	if req.Type != domain.RecurringExpense && req.Type != domain.RecurringIncome {
		writeError(w, http.StatusBadRequest, "invalid type: "+string(req.Type))
		return
	}
	switch req.Frequency {
	case "", domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly,
		domain.FrequencyQuarterly, domain.FrequencyYearly:
	default:
		writeError(w, http.StatusBadRequest, "invalid frequency: "+string(req.Frequency))
		return
	}
	due := parseTime(req.NextDueDate)
	if due == nil {
		writeError(w, http.StatusBadRequest, "next_due_date must be RFC 3339 or YYYY-MM-DD")
		return
	}

	tmpl := &domain.RecurringTemplate{
		AccountID:   req.AccountID,
		Name:        strings.TrimSpace(req.Name),
		Amount:      req.Amount,
		Type:        req.Type,
		Frequency:   req.Frequency,
		NextDueDate: due.UTC().Truncate(time.Second),
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := h.deps.Recurring.Create(r.Context(), tmpl); err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *Handlers) ListRecurring(w http.ResponseWriter, r *http.Request) {
	templates, err := h.deps.Recurring.List(r.Context())
	if err != nil {
		writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recurring": templates})
}
