package handlers

import (
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/sayfoulaye/backend/internal/middleware"
	"github.com/sayfoulaye/backend/internal/models"
	"github.com/sayfoulaye/backend/internal/services"
	"github.com/spf13/viper"
)

// ResetHandler exposes the daily reset trigger. The external scheduler calls
// it with a shared secret header; administrators may also fire it manually
// with their own token.
type ResetHandler struct {
	service *services.ResetService
}

func NewResetHandler(service *services.ResetService) *ResetHandler {
	return &ResetHandler{service: service}
}

// TriggerReset runs the daily close. Safe to call repeatedly: a day already
// closed comes back with alreadyDone=true and no balance changes.
// @Summary Trigger the daily reset
// @Tags admin
// @Produce json
// @Param X-Cron-Secret header string false "Scheduler shared secret"
// @Success 200 {object} services.ResetResult
// @Failure 401 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /admin/reset [post]
func (h *ResetHandler) TriggerReset(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	result, err := h.service.RunDailyReset(r.Context(), time.Now())
	if err != nil {
		log.Printf("[RESET] Trigger failed: %v", err)
		services.SendServiceError(w, err)
		return
	}

	services.WriteJSON(w, http.StatusOK, result)
}

// GetResetStatus returns the latest reset marker.
// @Summary Get the last reset marker
// @Tags admin
// @Produce json
// @Success 200 {object} services.ResetMarker
// @Failure 404 {object} map[string]string
// @Router /admin/reset/status [get]
func (h *ResetHandler) GetResetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	marker, err := h.service.LastMarker()
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	services.WriteJSON(w, http.StatusOK, marker)
}

func (h *ResetHandler) authorized(r *http.Request) bool {
	secret := viper.GetString("reset.cron_secret")
	if secret != "" {
		header := r.Header.Get("X-Cron-Secret")
		if header != "" && subtle.ConstantTimeCompare([]byte(header), []byte(secret)) == 1 {
			return true
		}
	}
	role, _ := r.Context().Value(middleware.RoleKey).(string)
	return role == models.RoleAdmin
}
