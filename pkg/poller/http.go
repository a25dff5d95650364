package poller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/hashgraph/mass-payout/pkg/app/errors"
	apphttp "github.com/hashgraph/mass-payout/pkg/app/http"
	"github.com/hashgraph/mass-payout/pkg/payout"
)

var validate = validator.New()

// Service is the listener configuration use case served over HTTP.
type Service interface {
	Config(ctx context.Context) (*payout.BlockchainEventListenerConfig, error)
	UpdateConfig(ctx context.Context, update *ConfigUpdate) (*payout.BlockchainEventListenerConfig, error)
	Running() bool
}

type configResponse struct {
	MirrorNodeURL  string    `json:"mirrorNodeUrl"`
	ContractID     string    `json:"contractId"`
	TokenDecimals  int32     `json:"tokenDecimals"`
	StartTimestamp string    `json:"startTimestamp"`
	Version        int64     `json:"version"`
	Running        bool      `json:"running"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type httpHandler struct {
	svc Service
}

// RegisterRoutes registers the blockchain listener endpoints on r. The update
// route is wrapped with guard.
func RegisterRoutes(r chi.Router, svc Service, guard func(http.Handler) http.Handler) {
	h := &httpHandler{svc: svc}
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/blockchain/config", apphttp.HandleError(h.getConfig))
	r.With(guard).Put("/blockchain/config", apphttp.HandleError(h.updateConfig))
}

func (h *httpHandler) getConfig(w http.ResponseWriter, r *http.Request) error {
	cfg, err := h.svc.Config(r.Context())
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, h.toResponse(cfg))
	return nil
}

func (h *httpHandler) updateConfig(w http.ResponseWriter, r *http.Request) error {
	var req ConfigUpdate
	if err := apphttp.DecodeJSON(r, &req); err != nil {
		return err
	}
	if err := validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}
	cfg, err := h.svc.UpdateConfig(r.Context(), &req)
	if err != nil {
		return err
	}
	apphttp.WriteJSON(w, http.StatusOK, h.toResponse(cfg))
	return nil
}

func (h *httpHandler) toResponse(cfg *payout.BlockchainEventListenerConfig) *configResponse {
	return &configResponse{
		MirrorNodeURL:  cfg.MirrorNodeURL,
		ContractID:     cfg.ContractID,
		TokenDecimals:  cfg.TokenDecimals,
		StartTimestamp: cfg.StartTimestamp,
		Version:        cfg.Version,
		Running:        h.svc.Running(),
		UpdatedAt:      cfg.UpdatedAt,
	}
}
