package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docshield/docshield/internal/policy"
)

// PolicyView renders a policy with its expiry in readable and numeric form.
type PolicyView struct {
	DefaultExpiry        string               `json:"default_expiry"`
	DefaultExpirySeconds int64                `json:"default_expiry_seconds"`
	DefaultMaxViews      *int                 `json:"default_max_views"`
	IPRestriction        policy.IPRestriction `json:"ip_restriction"`
	EncryptionRequired   bool                 `json:"encryption_required"`
	RequiresApproval     bool                 `json:"requires_approval"`
}

// PolicyHandlers exposes the effective sensitivity policy table
type PolicyHandlers struct {
	engine *policy.Engine
}

// NewPolicyHandlers creates a new policy handlers instance
func NewPolicyHandlers(engine *policy.Engine) *PolicyHandlers {
	return &PolicyHandlers{engine: engine}
}

// @Summary      Sensitivity policy table
// @Description  Returns the policy applied to each sensitivity level, reflecting any hot-reloaded configuration. Requires audit:read scope.
// @Tags         Policies
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]PolicyView
// @Router       /api/v1/policies [get]
// GetPolicies returns the effective policy table
// GET /api/v1/policies
func (h *PolicyHandlers) GetPolicies(c *gin.Context) {
	table := h.engine.Table()
	out := make(map[string]PolicyView, len(policy.AllSensitivities()))
	for _, s := range policy.AllSensitivities() {
		p := table.PolicyFor(s)
		out[string(s)] = PolicyView{
			DefaultExpiry:        p.DefaultExpiry.String(),
			DefaultExpirySeconds: int64(p.DefaultExpiry.Seconds()),
			DefaultMaxViews:      p.DefaultMaxViews,
			IPRestriction:        p.IPRestriction,
			EncryptionRequired:   p.EncryptionRequired,
			RequiresApproval:     p.RequiresApproval,
		}
	}
	c.JSON(http.StatusOK, out)
}
