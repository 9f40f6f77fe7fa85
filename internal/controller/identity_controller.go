// internal/controller/identity_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/service"
	"github.com/sendfox/sendfox-backend/internal/transport"
)

type IdentityController struct {
	IdentityRepo repository.IdentityRepositoryInterface
	Pool         *service.IdentityPoolService
}

func (c *IdentityController) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string            `json:"name"`
		Kind        string            `json:"kind"`
		Credentials model.Credentials `json:"credentials"`
		DailyCap    int               `json:"daily_cap"`
		CampaignCap int               `json:"campaign_cap"`
		Priority    int               `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	identity := &model.SenderIdentity{
		Name:        body.Name,
		Kind:        body.Kind,
		Credentials: body.Credentials,
		DailyCap:    body.DailyCap,
		CampaignCap: body.CampaignCap,
		Priority:    body.Priority,
		Enabled:     true,
	}

	// Construct the transport up front so a bad credential payload is
	// rejected at creation time.
	if _, err := transport.New(identity); err != nil {
		writeError(w, err)
		return
	}

	if err := c.IdentityRepo.Create(identity); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(identity)
}

func (c *IdentityController) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := c.IdentityRepo.ListAll()
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"data": identities})
}

func (c *IdentityController) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	identity, err := c.IdentityRepo.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Name        *string            `json:"name"`
		Credentials *model.Credentials `json:"credentials"`
		DailyCap    *int               `json:"daily_cap"`
		CampaignCap *int               `json:"campaign_cap"`
		Enabled     *bool              `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if body.Name != nil {
		identity.Name = *body.Name
	}
	if body.Credentials != nil {
		identity.Credentials = *body.Credentials
	}
	if body.DailyCap != nil {
		identity.DailyCap = *body.DailyCap
	}
	if body.CampaignCap != nil {
		identity.CampaignCap = *body.CampaignCap
	}
	if body.Enabled != nil {
		identity.Enabled = *body.Enabled
	}

	if err := c.IdentityRepo.Update(identity); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(identity)
}

// VerifyIdentity dials the identity's transport without sending anything.
func (c *IdentityController) VerifyIdentity(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	identity, err := c.IdentityRepo.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}

	sender, err := transport.New(identity)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := sender.Verify(ctx); err != nil {
		json.NewEncoder(w).Encode(map[string]interface{}{"verified": false, "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"verified": true})
}

// ReorderIdentities rewrites the priority order to match the posted id list.
func (c *IdentityController) ReorderIdentities(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.Pool.Reorder(body.IDs); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"reordered": len(body.IDs)})
}
