// internal/model/sequence.go
package model

import "time"

// BranchAction is the branch id recipients are routed to when an action click
// is recorded within the decision window. The default path has a nil branch id.
const BranchAction = "action"

type Sequence struct {
	ID               int            `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Enabled          bool           `db:"enabled" json:"enabled"`
	BranchDelayHours int            `db:"branch_delay_hours" json:"branch_delay_hours"`
	Steps            []SequenceStep `json:"steps,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

type SequenceStep struct {
	ID            int     `db:"id" json:"id"`
	SequenceID    int     `db:"sequence_id" json:"sequence_id"`
	BranchID      *string `db:"branch_id" json:"branch_id,omitempty"`
	StepOrder     int     `db:"step_order" json:"step_order"`
	Subject       string  `db:"subject" json:"subject"`
	BaseTemplate  string  `db:"base_template" json:"base_template"`
	ActionURL     string  `db:"action_url" json:"action_url,omitempty"`
	DelayDays     int     `db:"delay_days" json:"delay_days"`
	DelayHours    int     `db:"delay_hours" json:"delay_hours"`
	IsBranchPoint bool    `db:"is_branch_point" json:"is_branch_point"`
}

// Delay returns the step's wait measured from the previous step's send.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// StepAt locates the step with the given order. Step orders are unique per
// sequence, so the branch does not disambiguate here.
func StepAt(steps []SequenceStep, order int) *SequenceStep {
	for i := range steps {
		if steps[i].StepOrder == order {
			return &steps[i]
		}
	}
	return nil
}

// NextStep resolves the step following afterOrder on the given branch. Steps
// must be sorted by step_order. On a named branch the branch's own steps are
// preferred; when the branch has none left the lookup falls back to the
// default path, so an empty branch merges back into it.
func NextStep(steps []SequenceStep, branchID *string, afterOrder int) *SequenceStep {
	if branchID != nil {
		for i := range steps {
			s := &steps[i]
			if s.StepOrder > afterOrder && s.BranchID != nil && *s.BranchID == *branchID {
				return s
			}
		}
	}
	for i := range steps {
		s := &steps[i]
		if s.StepOrder > afterOrder && s.BranchID == nil {
			return s
		}
	}
	return nil
}
