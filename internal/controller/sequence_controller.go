// internal/controller/sequence_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sendfox/sendfox-backend/internal/model"
	"github.com/sendfox/sendfox-backend/internal/repository"
	"github.com/sendfox/sendfox-backend/internal/service"
)

type SequenceController struct {
	SequenceRepo repository.SequenceRepositoryInterface
	Enrollment   *service.EnrollmentService
}

func (c *SequenceController) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name             string `json:"name"`
		BranchDelayHours int    `json:"branch_delay_hours"`
		Steps            []struct {
			BranchID      *string `json:"branch_id"`
			StepOrder     int     `json:"step_order"`
			Subject       string  `json:"subject"`
			BaseTemplate  string  `json:"base_template"`
			ActionURL     string  `json:"action_url"`
			DelayDays     int     `json:"delay_days"`
			DelayHours    int     `json:"delay_hours"`
			IsBranchPoint bool    `json:"is_branch_point"`
		} `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if body.BranchDelayHours <= 0 {
		body.BranchDelayHours = 24
	}

	seq := &model.Sequence{
		Name:             body.Name,
		Enabled:          true,
		BranchDelayHours: body.BranchDelayHours,
	}
	for _, st := range body.Steps {
		seq.Steps = append(seq.Steps, model.SequenceStep{
			BranchID:      st.BranchID,
			StepOrder:     st.StepOrder,
			Subject:       st.Subject,
			BaseTemplate:  st.BaseTemplate,
			ActionURL:     st.ActionURL,
			DelayDays:     st.DelayDays,
			DelayHours:    st.DelayHours,
			IsBranchPoint: st.IsBranchPoint,
		})
	}

	if err := c.SequenceRepo.CreateSequence(seq); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(seq)
}

func (c *SequenceController) ListSequences(w http.ResponseWriter, r *http.Request) {
	sequences, err := c.SequenceRepo.ListSequences()
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"data": sequences})
}

// GetSequence returns the sequence with its steps and enrollment counts per
// status and per branch.
func (c *SequenceController) GetSequence(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	seq, err := c.SequenceRepo.GetSequence(id)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := c.SequenceRepo.EnrollmentStats(id)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"sequence": seq,
		"stats":    stats,
	})
}

func (c *SequenceController) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		Recipient string            `json:"recipient"`
		MergeData map[string]string `json:"merge_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	enrollment, err := c.Enrollment.Enroll(id, body.Recipient, body.MergeData)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(enrollment)
}

func (c *SequenceController) StopEnrollment(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "enrollmentID"))

	if err := c.Enrollment.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"id": id, "status": model.EnrollmentStopped})
}
