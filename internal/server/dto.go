package server

import (
	"hackreg/internal/domain"
	"hackreg/internal/forms"
)

// Request payloads

type CreateApplicantRequest struct {
	Email string `json:"email" format:"email"`
}

type UpdateApplicantRequest struct {
	// Fields is the raw key/value payload; keys outside the schema are
	// silently ignored by the validator.
	Fields map[string]string `json:"fields"`
}

type AdminUpdateRequest struct {
	Fields map[string]string `json:"fields"`
}

type PartnerRecordRequest struct {
	// Identity is the partner's partial record; only allow-listed keys
	// are applied on create.
	Identity map[string]string `json:"identity"`
}

// Response payloads

type FieldResultResponse struct {
	Value    *string `json:"value"`
	Editable bool    `json:"editable"`
	Rejected bool    `json:"rejected"`
}

type VerdictResponse struct {
	Action string                         `json:"action"`
	Status string                         `json:"status" enum:"success,fail"`
	Reason string                         `json:"reason,omitempty"`
	Fields map[string]FieldResultResponse `json:"fields,omitempty"`
	Error  string                         `json:"error,omitempty"`
}

func toVerdictResponse(v forms.Verdict) VerdictResponse {
	res := VerdictResponse{
		Action: v.Action,
		Status: v.Status,
		Reason: v.Reason,
		Fields: map[string]FieldResultResponse{},
	}
	for id, fr := range v.Fields {
		res.Fields[id] = FieldResultResponse{Value: fr.Value, Editable: fr.Editable, Rejected: fr.Rejected}
	}
	if v.Err != nil {
		res.Error = v.Err.Error()
	}
	return res
}

type ApplicantFormResponse struct {
	ApplicantID string                `json:"applicant_id"`
	Status      forms.StatusEntry     `json:"status"`
	Fields      []domain.DisplayField `json:"fields"`
}
