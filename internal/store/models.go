package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Decision is one decision made by the service. Credentials are never stored.
type Decision struct {
	ID          uint   `gorm:"primaryKey"`
	RequestID   string `gorm:"size:36;uniqueIndex"`
	BatchID     *uint  `gorm:"index"`
	Condition   string `gorm:"type:text"`
	ChoicesJSON string `gorm:"type:text"`
	Fallback    string `gorm:"size:512"`
	Model       string `gorm:"size:128;index"`
	Backend     string `gorm:"size:64"`
	Succeeded   bool   `gorm:"index"`
	Selected    string `gorm:"size:512"`
	Message     string `gorm:"type:text"`
	LatencyMs   int64
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// SetChoices persists the choice list as JSON.
func (d *Decision) SetChoices(choices []string) {
	if choices == nil {
		d.ChoicesJSON = "[]"
		return
	}
	payload, _ := json.Marshal(choices)
	d.ChoicesJSON = string(payload)
}

// Choices returns the unmarshalled choice list.
func (d *Decision) Choices() []string {
	if strings.TrimSpace(d.ChoicesJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(d.ChoicesJSON), &out); err != nil {
		return nil
	}
	return out
}

// Batch groups the decisions submitted in one batch call.
type Batch struct {
	ID         uint   `gorm:"primaryKey"`
	RequestID  string `gorm:"size:36;uniqueIndex"`
	Items      int
	Succeeded  int
	Failed     int
	DurationMs int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
