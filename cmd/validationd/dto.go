package main

import (
	"time"

	"github.com/arborvale/valicore/pkg/valcore"
)

// validateRequestDTO is the wire shape of POST /validate. Code is a plain
// string rather than a []byte field so the JSON payload carries source text
// directly instead of Go's default base64 encoding for byte slices.
type validateRequestDTO struct {
	RequestID string          `json:"requestId" validate:"omitempty"`
	Language  string          `json:"language" validate:"required"`
	Code      string          `json:"code" validate:"required"`
	Critical  bool            `json:"critical"`
	Options   optionsDTO      `json:"options"`
	Deadline  *time.Time      `json:"deadline,omitempty"`
}

type optionsDTO struct {
	Syntax                    bool              `json:"syntax"`
	Security                  bool              `json:"security"`
	Style                     bool              `json:"style"`
	BestPractices             bool              `json:"bestPractices"`
	ErrorHandling             bool              `json:"errorHandling"`
	CustomRules               map[string]string `json:"customRules,omitempty"`
	SecuritySeverityThreshold int               `json:"securitySeverityThreshold,omitempty" validate:"gte=0,lte=10"`
	ExcludeRules              []string          `json:"excludeRules,omitempty"`
}

// toRequest converts the wire DTO into the pipeline's internal request
// shape, expanding the exclude-rule slice into the set the validator
// packages expect.
func (d validateRequestDTO) toRequest(ctx requestContext) *valcore.ValidationRequest {
	exclude := make(map[string]struct{}, len(d.Options.ExcludeRules))
	for _, id := range d.Options.ExcludeRules {
		exclude[id] = struct{}{}
	}

	return &valcore.ValidationRequest{
		RequestID: ctx.requestID,
		Code:      []byte(d.Code),
		Language:  d.Language,
		Critical:  d.Critical,
		Deadline:  d.Deadline,
		Options: valcore.ValidationOptions{
			Syntax:                    d.Options.Syntax,
			Security:                  d.Options.Security,
			Style:                     d.Options.Style,
			BestPractices:             d.Options.BestPractices,
			ErrorHandling:             d.Options.ErrorHandling,
			CustomRules:               d.Options.CustomRules,
			SecuritySeverityThreshold: d.Options.SecuritySeverityThreshold,
			ExcludeRules:              exclude,
		},
	}
}

// requestContext carries per-request identifiers threaded through from the
// logging middleware rather than re-derived in the handler.
type requestContext struct {
	requestID string
}

// issueDTO is the wire shape of a single validation finding.
type issueDTO struct {
	Code       string       `json:"code"`
	Severity   string       `json:"severity"`
	Message    string       `json:"message"`
	Location   *locationDTO `json:"location,omitempty"`
	Suggestion string       `json:"suggestion,omitempty"`
}

type locationDTO struct {
	Line   int `json:"line"`
	Column int `json:"column,omitempty"`
	Length int `json:"length,omitempty"`
}

// validateResponseDTO is the wire shape of POST /validate's response.
type validateResponseDTO struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	Language    string     `json:"language"`
	IsValid     bool       `json:"isValid"`
	Partial     bool       `json:"partial"`
	Issues      []issueDTO `json:"issues"`
	CompletedAt time.Time  `json:"completedAt"`
}

func newValidateResponseDTO(r *valcore.ValidationResult) validateResponseDTO {
	issues := make([]issueDTO, 0, len(r.Issues))
	for _, iss := range r.Issues {
		dto := issueDTO{
			Code:       iss.Code,
			Severity:   string(iss.Severity),
			Message:    iss.Message,
			Suggestion: iss.Suggestion,
		}
		if iss.Location != nil {
			dto.Location = &locationDTO{
				Line:   iss.Location.Line,
				Column: iss.Location.Column,
				Length: iss.Location.Length,
			}
		}
		issues = append(issues, dto)
	}

	return validateResponseDTO{
		ID:          r.ID,
		State:       string(r.State),
		Language:    r.Language,
		IsValid:     r.IsValid,
		Partial:     r.Partial,
		Issues:      issues,
		CompletedAt: r.CompletedAt,
	}
}

// errorResponseDTO is the wire shape of every non-2xx JSON response.
type errorResponseDTO struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
