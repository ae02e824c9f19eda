// Package suggest turns free text into a challenge draft.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnavailable is returned when no generator is configured.
var ErrUnavailable = errors.New("challenge suggestions unavailable")

// ErrInvalidDraft wraps drafts that fail validation.
var ErrInvalidDraft = errors.New("invalid challenge draft")

// DraftTask is one task of a draft.
type DraftTask struct {
	Task        string `json:"task" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// Draft is the fixed schema a generator must produce.
type Draft struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description" validate:"max=2000"`
	Tasks       []DraftTask `json:"tasks" validate:"min=4,max=20,dive"`
}

// Generator produces a draft from a user prompt.
type Generator interface {
	Generate(ctx context.Context, text string) (Draft, error)
}

var validate = validator.New()

// Validate trims the draft and checks it against the schema.
func (d *Draft) Validate() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	for i := range d.Tasks {
		d.Tasks[i].Task = strings.TrimSpace(d.Tasks[i].Task)
		d.Tasks[i].Description = strings.TrimSpace(d.Tasks[i].Description)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// ParseDraft decodes and validates generator output. Code fences around the
// JSON object are tolerated.
func ParseDraft(raw string) (Draft, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "{"); i > 0 {
		raw = raw[i:]
	}
	if i := strings.LastIndex(raw, "}"); i >= 0 && i < len(raw)-1 {
		raw = raw[:i+1]
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Draft{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}
