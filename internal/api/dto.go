package api

import (
	"time"

	"llm-branch/internal/store"
	"llm-branch/pkg/branch"
)

// DecideRequest is the JSON body of a decision call. Condition and Choices
// are decoded loosely so that wrongly typed values reach the decision
// validator instead of failing JSON binding.
type DecideRequest struct {
	Condition     any    `json:"condition"`
	Choices       any    `json:"choices"`
	Model         string `json:"model"`
	APIKey        string `json:"api_key"`
	Else          string `json:"else"`
	ConsoleErrors bool   `json:"console_errors"`
}

// BatchDecideRequest submits several decisions at once.
type BatchDecideRequest struct {
	Items []DecideRequest `json:"items" binding:"required,min=1,max=100,dive"`
}

// DecisionDTO is the API representation of a decision.
type DecisionDTO struct {
	ID        uint      `json:"id,omitempty"`
	RequestID string    `json:"request_id"`
	BatchID   *uint     `json:"batch_id,omitempty"`
	Condition string    `json:"condition"`
	Choices   []string  `json:"choices"`
	Else      string    `json:"else,omitempty"`
	Model     string    `json:"model"`
	Backend   string    `json:"backend"`
	Response  bool      `json:"response"`
	Result    string    `json:"result"`
	Message   string    `json:"message"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchDecideResponse reports the outcome of a batch call in input order.
type BatchDecideResponse struct {
	BatchID    uint          `json:"batch_id,omitempty"`
	RequestID  string        `json:"request_id"`
	Items      []DecisionDTO `json:"items"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	DurationMs int64         `json:"duration_ms"`
}

// DecisionsResponse is the paginated response for stored decisions.
type DecisionsResponse struct {
	Items []DecisionDTO `json:"items"`
	Total int64         `json:"total"`
}

// BatchDTO represents a stored batch.
type BatchDTO struct {
	ID         uint      `json:"id"`
	RequestID  string    `json:"request_id"`
	Items      int       `json:"items"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r DecideRequest) toInput(defaultModel, defaultCredential string) branch.Input {
	condition, _ := r.Condition.(string)
	model := firstNonEmpty(r.Model, defaultModel)
	credential := firstNonEmpty(r.APIKey, defaultCredential)
	return branch.Input{
		Condition:   condition,
		Choices:     stringSlice(r.Choices),
		Credential:  credential,
		Model:       model,
		Fallback:    r.Else,
		Diagnostics: r.ConsoleErrors,
	}
}

// stringSlice returns nil unless value is a JSON array of strings.
func stringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// FromModel converts a store.Decision into the DTO representation.
func FromModel(d store.Decision) DecisionDTO {
	return DecisionDTO{
		ID:        d.ID,
		RequestID: d.RequestID,
		BatchID:   d.BatchID,
		Condition: d.Condition,
		Choices:   d.Choices(),
		Else:      d.Fallback,
		Model:     d.Model,
		Backend:   d.Backend,
		Response:  d.Succeeded,
		Result:    d.Selected,
		Message:   d.Message,
		LatencyMs: d.LatencyMs,
		CreatedAt: d.CreatedAt,
	}
}

// ToModel converts the DTO into a storable decision.
func (dto DecisionDTO) ToModel() store.Decision {
	decision := store.Decision{
		RequestID: dto.RequestID,
		BatchID:   dto.BatchID,
		Condition: dto.Condition,
		Fallback:  dto.Else,
		Model:     dto.Model,
		Backend:   dto.Backend,
		Succeeded: dto.Response,
		Selected:  dto.Result,
		Message:   dto.Message,
		LatencyMs: dto.LatencyMs,
		CreatedAt: dto.CreatedAt,
	}
	decision.SetChoices(dto.Choices)
	return decision
}

// BatchFromModel converts a store.Batch into a DTO.
func BatchFromModel(b store.Batch) BatchDTO {
	return BatchDTO{
		ID:         b.ID,
		RequestID:  b.RequestID,
		Items:      b.Items,
		Succeeded:  b.Succeeded,
		Failed:     b.Failed,
		DurationMs: b.DurationMs,
		CreatedAt:  b.CreatedAt,
	}
}
