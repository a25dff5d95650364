package service

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	apphttp "github.com/hashgraph/mass-payout/pkg/app/http"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

const defaultListPageLength = 20

var validate = validator.New()

// Services bundles the use cases served over HTTP.
type Services struct {
	Assets        AssetService
	Distributions DistributionService
	Orchestrator  Orchestrator
	Retries       RetryService
}

// HTTP wraps the payout services to provide HTTP endpoints
type HTTP struct {
	svc    Services
	logger *zap.Logger
}

// RegisterRoutes registers the asset and distribution endpoints on r. Routes
// that change state are wrapped with guard.
func RegisterRoutes(r chi.Router, svc Services, guard func(http.Handler) http.Handler, logger *zap.Logger) {
	h := &HTTP{svc: svc, logger: logger}
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/assets", apphttp.HandleError(h.listAssets))
	r.Get("/assets/{id}", apphttp.HandleError(h.getAsset))
	r.Get("/assets/{id}/distributions", apphttp.HandleError(h.listDistributions))
	r.Get("/distributions/{id}", apphttp.HandleError(h.getDistribution))
	r.Get("/distributions/{id}/batch-payouts", apphttp.HandleError(h.listBatchPayouts))
	r.Get("/distributions/{id}/holders", apphttp.HandleError(h.listHolders))

	r.Group(func(r chi.Router) {
		r.Use(guard)
		r.Post("/assets", apphttp.HandleError(h.importAsset))
		r.Delete("/assets", apphttp.HandleError(h.deleteAssets))
		r.Patch("/assets/{id}", apphttp.HandleError(h.renameAsset))
		r.Post("/assets/{id}/pause", apphttp.HandleError(h.pauseAsset))
		r.Post("/assets/{id}/unpause", apphttp.HandleError(h.unpauseAsset))
		r.Post("/assets/{id}/enable-sync", apphttp.HandleError(h.enableSync))
		r.Post("/assets/{id}/disable-sync", apphttp.HandleError(h.disableSync))
		r.Post("/assets/{id}/distributions", apphttp.HandleError(h.createPayout))
		r.Post("/distributions/{id}/cancel", apphttp.HandleError(h.cancelDistribution))
		r.Post("/distributions/{id}/execute", apphttp.HandleError(h.executeDistribution))
		r.Post("/distributions/{id}/retry", apphttp.HandleError(h.retryDistribution))
	})
}

type assetResponse struct {
	ID                             string    `json:"id"`
	Name                           string    `json:"name"`
	HederaTokenAddress             string    `json:"hederaTokenAddress"`
	EvmTokenAddress                string    `json:"evmTokenAddress"`
	LifeCycleCashFlowHederaAddress string    `json:"lifeCycleCashFlowHederaAddress"`
	LifeCycleCashFlowEvmAddress    string    `json:"lifeCycleCashFlowEvmAddress"`
	IsPaused                       bool      `json:"isPaused"`
	SyncEnabled                    bool      `json:"syncEnabled"`
	CreatedAt                      time.Time `json:"createdAt"`
	UpdatedAt                      time.Time `json:"updatedAt"`
}

func toAssetResponse(a *payout.Asset) *assetResponse {
	return &assetResponse{
		ID:                             a.ID,
		Name:                           a.Name,
		HederaTokenAddress:             a.HederaTokenAddress,
		EvmTokenAddress:                a.EvmTokenAddress,
		LifeCycleCashFlowHederaAddress: a.LifeCycleCashFlowHederaAddress,
		LifeCycleCashFlowEvmAddress:    a.LifeCycleCashFlowEvmAddress,
		IsPaused:                       a.IsPaused,
		SyncEnabled:                    a.SyncEnabled,
		CreatedAt:                      a.CreatedAt,
		UpdatedAt:                      a.UpdatedAt,
	}
}

type distributionResponse struct {
	ID                string    `json:"id"`
	AssetID           string    `json:"assetId"`
	Type              string    `json:"type"`
	CorporateActionID string    `json:"corporateActionId,omitempty"`
	ExecutionDate     time.Time `json:"executionDate"`
	PayoutSubtype     string    `json:"subtype,omitempty"`
	Recurrency        string    `json:"recurrency,omitempty"`
	AmountType        string    `json:"amountType,omitempty"`
	Amount            string    `json:"amount,omitempty"`
	Concept           string    `json:"concept,omitempty"`
	SnapshotID        string    `json:"snapshotId,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toDistributionResponse(d *payout.Distribution) *distributionResponse {
	resp := &distributionResponse{
		ID:                d.ID,
		AssetID:           d.AssetID,
		Type:              string(d.Type),
		CorporateActionID: d.CorporateActionID,
		ExecutionDate:     d.ExecutionDate,
		PayoutSubtype:     string(d.PayoutSubtype),
		Recurrency:        string(d.Recurrency),
		AmountType:        string(d.AmountType),
		Concept:           d.Concept,
		SnapshotID:        d.SnapshotID,
		Status:            string(d.Status),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.Type == payout.DistributionTypePayout {
		resp.Amount = d.Amount.String()
	}
	return resp
}

type batchPayoutResponse struct {
	ID                    string    `json:"id"`
	DistributionID        string    `json:"distributionId"`
	Name                  string    `json:"name"`
	HederaTransactionID   string    `json:"hederaTransactionId"`
	HederaTransactionHash string    `json:"hederaTransactionHash"`
	EvmTransactionHash    string    `json:"evmTransactionHash,omitempty"`
	HoldersNumber         int       `json:"holdersNumber"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func toBatchPayoutResponse(b *payout.BatchPayout) *batchPayoutResponse {
	return &batchPayoutResponse{
		ID:                    b.ID,
		DistributionID:        b.DistributionID,
		Name:                  b.Name,
		HederaTransactionID:   b.HederaTransactionID,
		HederaTransactionHash: b.HederaTransactionHash,
		EvmTransactionHash:    b.EvmTransactionHash,
		HoldersNumber:         b.HoldersNumber,
		Status:                string(b.Status),
		CreatedAt:             b.CreatedAt,
		UpdatedAt:             b.UpdatedAt,
	}
}

type holderResponse struct {
	ID                  string     `json:"id"`
	BatchPayoutID       string     `json:"batchPayoutId"`
	HolderHederaAddress string     `json:"holderHederaAddress,omitempty"`
	HolderEvmAddress    string     `json:"holderEvmAddress"`
	Amount              *string    `json:"amount"`
	RetryCounter        int        `json:"retryCounter"`
	Status              string     `json:"status"`
	NextRetryAt         *time.Time `json:"nextRetryAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func toHolderResponse(h *payout.Holder) *holderResponse {
	resp := &holderResponse{
		ID:                  h.ID,
		BatchPayoutID:       h.BatchPayoutID,
		HolderHederaAddress: h.HolderHederaAddress,
		HolderEvmAddress:    h.HolderEvmAddress,
		RetryCounter:        h.RetryCounter,
		Status:              string(h.Status),
		NextRetryAt:         h.NextRetryAt,
		LastError:           h.LastError,
		CreatedAt:           h.CreatedAt,
		UpdatedAt:           h.UpdatedAt,
	}
	if h.Amount != nil {
		amount := h.Amount.String()
		resp.Amount = &amount
	}
	return resp
}

type pageResponse[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	PageIndex  int `json:"pageIndex"`
	PageLength int `json:"pageLength"`
}

func toPageResponse[S, T any](page payout.Page[S], convert func(S) T) *pageResponse[T] {
	items := make([]T, len(page.Items))
	for i, item := range page.Items {
		items[i] = convert(item)
	}
	return &pageResponse[T]{Items: items, Total: page.Total, PageIndex: page.PageIndex, PageLength: page.PageLength}
}

type executeRequest struct {
	PageIndex  int `json:"pageIndex" validate:"min=0"`
	PageLength int `json:"pageLength" validate:"min=0"`
}

type executeResponse struct {
	Distribution    *distributionResponse  `json:"distribution"`
	BatchPayouts    []*batchPayoutResponse `json:"batchPayouts"`
	Succeeded       int                    `json:"succeeded"`
	Failed          int                    `json:"failed"`
	AwaitingReceipt int                    `json:"awaitingReceipt"`
	StoppedReason   string                 `json:"stoppedReason,omitempty"`
}

type retryResponse struct {
	Distribution    *distributionResponse `json:"distribution"`
	Retried         int                   `json:"retried"`
	Succeeded       int                   `json:"succeeded"`
	Failed          int                   `json:"failed"`
	AwaitingReceipt int                   `json:"awaitingReceipt"`
	Settled         int                   `json:"settled"`
	SkippedBatches  int                   `json:"skippedBatches"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// parsePage reads pageIndex and pageLength query parameters.
func parsePage(r *http.Request) (payout.Pagination, error) {
	page := payout.Pagination{PageLength: defaultListPageLength}
	for name, dst := range map[string]*int{"pageIndex": &page.PageIndex, "pageLength": &page.PageLength} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return payout.Pagination{}, apperrors.BadRequestError(err, "invalid "+name)
		}
		*dst = v
	}
	return page, nil
}

func decodeValid(r *http.Request, dst any) error {
	if err := apphttp.DecodeJSON(r, dst); err != nil {
		return err
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}
	return nil
}

func (h *HTTP) listAssets(w http.ResponseWriter, r *http.Request) error {
	page, err := parsePage(r)
	if err != nil {
		return err
	}
	assets, err := h.svc.Assets.List(r.Context(), page)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toPageResponse(assets, toAssetResponse))
	return nil
}

func (h *HTTP) getAsset(w http.ResponseWriter, r *http.Request) error {
	asset, err := h.svc.Assets.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toAssetResponse(asset))
	return nil
}

func (h *HTTP) importAsset(w http.ResponseWriter, r *http.Request) error {
	var req ImportAssetRequest
	if err := decodeValid(r, &req); err != nil {
		return err
	}
	asset, err := h.svc.Assets.Import(r.Context(), &req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, toAssetResponse(asset))
	return nil
}

func (h *HTTP) deleteAssets(w http.ResponseWriter, r *http.Request) error {
	n, err := h.svc.Assets.DeleteAll(r.Context())
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
	return nil
}

func (h *HTTP) renameAsset(w http.ResponseWriter, r *http.Request) error {
	var req renameRequest
	if err := decodeValid(r, &req); err != nil {
		return err
	}
	asset, err := h.svc.Assets.Rename(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toAssetResponse(asset))
	return nil
}

func (h *HTTP) pauseAsset(w http.ResponseWriter, r *http.Request) error {
	return h.writeAsset(w, r, h.svc.Assets.Pause)
}

func (h *HTTP) unpauseAsset(w http.ResponseWriter, r *http.Request) error {
	return h.writeAsset(w, r, h.svc.Assets.Unpause)
}

func (h *HTTP) enableSync(w http.ResponseWriter, r *http.Request) error {
	return h.writeAsset(w, r, h.svc.Assets.EnableSync)
}

func (h *HTTP) disableSync(w http.ResponseWriter, r *http.Request) error {
	return h.writeAsset(w, r, h.svc.Assets.DisableSync)
}

func (h *HTTP) writeAsset(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (*payout.Asset, error)) error {
	asset, err := action(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toAssetResponse(asset))
	return nil
}

func (h *HTTP) listDistributions(w http.ResponseWriter, r *http.Request) error {
	page, err := parsePage(r)
	if err != nil {
		return err
	}
	out, err := h.svc.Distributions.ListByAsset(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toPageResponse(out, toDistributionResponse))
	return nil
}

func (h *HTTP) createPayout(w http.ResponseWriter, r *http.Request) error {
	var req CreatePayoutRequest
	if err := decodeValid(r, &req); err != nil {
		return err
	}
	req.AssetID = chi.URLParam(r, "id")
	d, err := h.svc.Distributions.CreatePayout(r.Context(), &req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusCreated, toDistributionResponse(d))
	return nil
}

func (h *HTTP) getDistribution(w http.ResponseWriter, r *http.Request) error {
	d, err := h.svc.Distributions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toDistributionResponse(d))
	return nil
}

func (h *HTTP) listBatchPayouts(w http.ResponseWriter, r *http.Request) error {
	batches, err := h.svc.Distributions.ListBatchPayouts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	out := make([]*batchPayoutResponse, len(batches))
	for i, b := range batches {
		out[i] = toBatchPayoutResponse(b)
	}
	apphttp.WriteJSON(w, http.StatusOK, out)
	return nil
}

func (h *HTTP) listHolders(w http.ResponseWriter, r *http.Request) error {
	page, err := parsePage(r)
	if err != nil {
		return err
	}
	holders, err := h.svc.Distributions.ListHolders(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toPageResponse(holders, toHolderResponse))
	return nil
}

func (h *HTTP) cancelDistribution(w http.ResponseWriter, r *http.Request) error {
	d, err := h.svc.Distributions.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, toDistributionResponse(d))
	return nil
}

func (h *HTTP) executeDistribution(w http.ResponseWriter, r *http.Request) error {
	var req executeRequest
	if r.ContentLength > 0 {
		if err := decodeValid(r, &req); err != nil {
			return err
		}
	}
	report, err := h.svc.Orchestrator.Execute(r.Context(), chi.URLParam(r, "id"), payout.Pagination{
		PageIndex:  req.PageIndex,
		PageLength: req.PageLength,
	})
	if err != nil {
		return err
	}

	resp := &executeResponse{
		Distribution:    toDistributionResponse(report.Distribution),
		BatchPayouts:    make([]*batchPayoutResponse, len(report.BatchPayouts)),
		Succeeded:       report.Succeeded,
		Failed:          report.Failed,
		AwaitingReceipt: report.AwaitingReceipt,
		StoppedReason:   report.StoppedReason,
	}
	for i, b := range report.BatchPayouts {
		resp.BatchPayouts[i] = toBatchPayoutResponse(b)
	}
	apphttp.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) retryDistribution(w http.ResponseWriter, r *http.Request) error {
	report, err := h.svc.Retries.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, &retryResponse{
		Distribution:    toDistributionResponse(report.Distribution),
		Retried:         report.Retried,
		Succeeded:       report.Succeeded,
		Failed:          report.Failed,
		AwaitingReceipt: report.AwaitingReceipt,
		Settled:         report.Settled,
		SkippedBatches:  report.SkippedBatches,
	})
	return nil
}
