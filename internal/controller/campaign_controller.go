// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/queue"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/service"
)

type CampaignController struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Dispatch     *service.DispatchService
	Queue        queue.Queue
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject      string `json:"subject"`
		BaseTemplate string `json:"base_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		Subject:      body.Subject,
		BaseTemplate: body.BaseTemplate,
		Status:       model.CampaignDraft,
	}
	if err := c.CampaignRepo.Create(campaign); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := c.CampaignRepo.ListCampaigns(offset, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

// GetCampaign returns the campaign with its per-status send stats and the
// per-recipient error detail the summary view shows.
func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := c.CampaignRepo.GetCampaignStats(id)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := c.CampaignRepo.ListSendRecords(id)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign": campaign,
		"stats":    stats,
		"records":  records,
	})
}

// SendCampaign dispatches synchronously, streaming one JSON line per
// recipient as the batch progresses.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		Recipients []service.Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.prepareSend(id, len(body.Recipients))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for progress := range c.Dispatch.Dispatch(r.Context(), campaign, body.Recipients) {
		enc.Encode(progress)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// SendCampaignAsync hands the batch to the worker over RabbitMQ and returns
// immediately.
func (c *CampaignController) SendCampaignAsync(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		Recipients []service.Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if _, err := c.prepareSend(id, len(body.Recipients)); err != nil {
		writeError(w, err)
		return
	}

	if err := c.Queue.PublishDispatchJob(queue.DispatchJob{
		CampaignID: id,
		Recipients: body.Recipients,
	}); err != nil {
		log.WithError(err).Error("failed to publish dispatch job")
		http.Error(w, "failed to enqueue dispatch", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": id,
		"recipients":  len(body.Recipients),
		"status":      model.CampaignSending,
	})
}

// StopCampaign sets the operator stop flag; dispatch checks it between
// recipients. Messages already sent stay sent.
func (c *CampaignController) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	if err := c.CampaignRepo.UpdateStatus(id, model.CampaignStopped); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": model.CampaignStopped})
}

func (c *CampaignController) prepareSend(id, recipientCount int) (*model.Campaign, error) {
	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == model.CampaignDraft {
		if err := c.CampaignRepo.UpdateStatus(id, model.CampaignSending); err != nil {
			return nil, err
		}
		campaign.Status = model.CampaignSending
	}
	if campaign.RecipientCount == 0 && recipientCount > 0 {
		if err := c.CampaignRepo.SetRecipientCount(id, recipientCount); err != nil {
			return nil, err
		}
		campaign.RecipientCount = recipientCount
	}
	return campaign, nil
}
