// Package claims_api — JSON HTTP поверх сервисов purchases и claims.
package claims_api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/tatolapchik-bit/price-protection-bot/internal/models"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/claims"
	"github.com/tatolapchik-bit/price-protection-bot/internal/services/purchases"
	"github.com/tatolapchik-bit/price-protection-bot/internal/storage/pgclaims"
)

type ClaimsAPI struct {
	purchases *purchases.Service
	claims    *claims.Service
}

func New(p *purchases.Service, c *claims.Service) *ClaimsAPI {
	return &ClaimsAPI{purchases: p, claims: c}
}

// Routes собирает все маршруты API под /api/v1.
func (a *ClaimsAPI) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", a.createPurchase)
			r.Get("/", a.listPurchases)
			r.Get("/{id}", a.getPurchase)
			r.Get("/{id}/observations", a.listObservations)
			r.Post("/{id}/recheck", a.recheckPurchase)
			r.Put("/{id}/instrument", a.linkInstrument)
			r.Get("/{id}/filing-instructions", a.filingInstructions)
		})

		r.Route("/instruments", func(r chi.Router) {
			r.Post("/", a.createInstrument)
			r.Get("/", a.listInstruments)
			r.Get("/{id}", a.getInstrument)
			r.Put("/{id}", a.updateInstrument)
			r.Delete("/{id}", a.deleteInstrument)
		})

		r.Route("/claims", func(r chi.Router) {
			r.Post("/", a.createClaim)
			r.Get("/", a.listClaims)
			r.Get("/{id}", a.getClaim)
			r.Post("/{id}/file", a.fileClaim)
			r.Post("/{id}/decision", a.recordDecision)
			r.Get("/{id}/proof", a.proofBundle)
		})

		r.Get("/notifications", a.listNotifications)
		r.Get("/users/{id}/settings", a.getUserSettings)
		r.Put("/users/{id}/settings", a.updateUserSettings)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// ==== покупки ====

type createPurchaseRequest struct {
	UserID          uint64  `json:"userId"`
	ProductName     string  `json:"productName"`
	Retailer        string  `json:"retailer"`
	PurchaseCents   int64   `json:"purchaseCents"`
	PurchasedAt     string  `json:"purchasedAt,omitempty"`
	ProductURL      string  `json:"productUrl,omitempty"`
	InstrumentID    *uint64 `json:"instrumentId,omitempty"`
	SourceMessageID string  `json:"sourceMessageId,omitempty"`
}

func (a *ClaimsAPI) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	in := models.PurchaseCreateInput{
		UserID:        req.UserID,
		ProductName:   req.ProductName,
		Retailer:      req.Retailer,
		PurchaseCents: req.PurchaseCents,
		InstrumentID:  req.InstrumentID,
		Source:        models.PurchaseSourceManual,
	}
	if req.ProductURL != "" {
		in.ProductURL = &req.ProductURL
	}
	if req.SourceMessageID != "" {
		in.SourceMessageID = &req.SourceMessageID
	}
	if req.PurchasedAt != "" {
		t, err := time.Parse(time.RFC3339, req.PurchasedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "purchasedAt must be RFC3339")
			return
		}
		in.PurchasedAt = t
	}

	p, err := a.purchases.CreatePurchase(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

func (a *ClaimsAPI) getPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := a.purchases.GetPurchase(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "purchase not found")
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(p))
}

func (a *ClaimsAPI) listPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	ps, err := a.purchases.ListPurchases(r.Context(), userID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]purchaseDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPurchaseDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": out})
}

func (a *ClaimsAPI) listObservations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	obs, err := a.purchases.ListObservations(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]observationDTO, 0, len(obs))
	for _, o := range obs {
		out = append(out, observationDTO{
			ID: o.ID, PurchaseID: o.PurchaseID, Cents: o.Cents,
			Source: o.Source, ObservedAt: o.ObservedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": out})
}

func (a *ClaimsAPI) recheckPurchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.purchases.RecheckPurchase(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

type linkInstrumentRequest struct {
	InstrumentID uint64 `json:"instrumentId"`
}

func (a *ClaimsAPI) linkInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req linkInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstrumentID == 0 {
		writeError(w, http.StatusBadRequest, "instrumentId is required")
		return
	}
	p, err := a.purchases.LinkInstrument(r.Context(), id, req.InstrumentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(p))
}

func (a *ClaimsAPI) filingInstructions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, err := a.claims.FilingInstructions(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// ==== карты ====

type instrumentRequest struct {
	UserID           uint64 `json:"userId"`
	Nickname         string `json:"nickname,omitempty"`
	Network          string `json:"network,omitempty"`
	Issuer           string `json:"issuer"`
	Last4            string `json:"last4"`
	ProtectionDays   int32  `json:"protectionDays,omitempty"`
	MaxClaimCents    int64  `json:"maxClaimCents,omitempty"`
	ClaimChannel     string `json:"claimChannel,omitempty"`
	ClaimDestination string `json:"claimDestination,omitempty"`
	AutoClaimEnabled bool   `json:"autoClaimEnabled"`
}

func (a *ClaimsAPI) createInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	i, err := a.purchases.CreateInstrument(r.Context(), models.InstrumentCreateInput{
		UserID:           req.UserID,
		Nickname:         req.Nickname,
		Network:          req.Network,
		Issuer:           req.Issuer,
		Last4:            req.Last4,
		ProtectionDays:   req.ProtectionDays,
		MaxClaimCents:    req.MaxClaimCents,
		ClaimChannel:     req.ClaimChannel,
		ClaimDestination: req.ClaimDestination,
		AutoClaimEnabled: req.AutoClaimEnabled,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInstrumentDTO(i))
}

func (a *ClaimsAPI) getInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	i, err := a.purchases.GetInstrument(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if i == nil {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	}
	writeJSON(w, http.StatusOK, toInstrumentDTO(i))
}

func (a *ClaimsAPI) listInstruments(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	is, err := a.purchases.ListInstruments(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]instrumentDTO, 0, len(is))
	for _, i := range is {
		out = append(out, toInstrumentDTO(i))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func (a *ClaimsAPI) updateInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cur, err := a.purchases.GetInstrument(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cur == nil {
		writeError(w, http.StatusNotFound, "instrument not found")
		return
	}

	var req instrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Nickname != "" {
		cur.Nickname = req.Nickname
	}
	if req.ProtectionDays > 0 {
		cur.ProtectionDays = req.ProtectionDays
	}
	if req.MaxClaimCents > 0 {
		cur.MaxClaimCents = req.MaxClaimCents
	}
	if req.ClaimChannel != "" {
		cur.ClaimChannel = req.ClaimChannel
	}
	if req.ClaimDestination != "" {
		cur.ClaimDestination = req.ClaimDestination
	}
	cur.AutoClaimEnabled = req.AutoClaimEnabled

	if err := a.purchases.UpdateInstrument(r.Context(), cur); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstrumentDTO(cur))
}

func (a *ClaimsAPI) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.purchases.DeleteInstrument(r.Context(), id); err != nil {
		// FK RESTRICT: карту с покупками удалить нельзя.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==== заявки ====

type createClaimRequest struct {
	PurchaseID uint64 `json:"purchaseId"`
	NewCents   int64  `json:"newCents,omitempty"`
}

func (a *ClaimsAPI) createClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PurchaseID == 0 {
		writeError(w, http.StatusBadRequest, "purchaseId is required")
		return
	}
	c, err := a.claims.CreateManualClaim(r.Context(), req.PurchaseID, req.NewCents)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

func (a *ClaimsAPI) getClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.claims.GetClaim(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "claim not found")
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

func (a *ClaimsAPI) listClaims(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	cs, err := a.claims.ListClaims(r.Context(), userID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]claimDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, toClaimDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": out})
}

func (a *ClaimsAPI) fileClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.claims.TriggerFile(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

type decisionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func (a *ClaimsAPI) recordDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := a.claims.RecordDecision(r.Context(), id, req.Status, req.Note); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": true})
}

func (a *ClaimsAPI) proofBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := a.claims.ProofBundle(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proofBundleDTO{
		Claim:     toClaimDTO(b.Claim),
		History:   toHistoryDTOs(b.History),
		Artifacts: b.Artifacts,
	})
}

// ==== уведомления и настройки ====

func (a *ClaimsAPI) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	ns, err := a.purchases.ListNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]notificationDTO, 0, len(ns))
	for _, n := range ns {
		out = append(out, notificationDTO{
			ID: n.ID, UserID: n.UserID, Kind: n.Kind,
			Message: n.Message, CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

type settingsDTO struct {
	UserID        uint64 `json:"userId"`
	Email         string `json:"email,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	MinDropCents  int64  `json:"minDropCents"`
	ExtractorMode string `json:"extractorMode"`
}

func (a *ClaimsAPI) getUserSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := a.purchases.GetUserSettings(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{
		UserID: u.UserID, Email: u.Email, FullName: u.FullName,
		MinDropCents: u.MinDropCents, ExtractorMode: u.ExtractorMode,
	})
}

func (a *ClaimsAPI) updateUserSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req settingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u := &models.UserSettings{
		UserID: id, Email: req.Email, FullName: req.FullName,
		MinDropCents: req.MinDropCents, ExtractorMode: req.ExtractorMode,
	}
	if err := a.purchases.UpdateUserSettings(r.Context(), u); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsDTO{
		UserID: u.UserID, Email: u.Email, FullName: u.FullName,
		MinDropCents: u.MinDropCents, ExtractorMode: u.ExtractorMode,
	})
}

// ==== общее ====

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeServiceError переводит ошибку сервиса в HTTP-статус: нарушение
// инварианта и дубль активной заявки — конфликт, прочее — 500 с логом.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pgclaims.ErrActiveClaimExists),
		errors.Is(err, pipeline.ErrInvariantViolation):
		writeError(w, http.StatusConflict, err.Error())
	case isValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("api error", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Сервисы возвращают ошибки валидации как errors.New с "is required" /
// "not found" в тексте; типизировать их ради двух веток незачем.
func isValidation(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"is required", "not found", "must be", "belongs to another user"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryUserID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "user_id query param is required")
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
