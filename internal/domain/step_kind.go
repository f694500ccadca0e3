package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StepKind selects the fixed configuration schema of a step.
type StepKind string

const (
	StepKindTask     StepKind = "task"
	StepKindApproval StepKind = "approval"
	StepKindDelay    StepKind = "delay"
	StepKindWebhook  StepKind = "webhook"
	StepKindEmail    StepKind = "email"
)

// StepConfig is the decoded, kind-specific configuration of a step.
type StepConfig interface {
	Kind() StepKind
}

type TaskConfig struct {
	// RequiredFields lists start_data keys that must be present when the
	// step is the first step of a workflow.
	RequiredFields []string `json:"required_fields,omitempty" validate:"omitempty,dive,required"`
}

type ApprovalConfig struct {
	MinApprovers int `json:"min_approvers" validate:"gte=1"`
}

type DelayConfig struct {
	Seconds int `json:"seconds" validate:"gt=0"`
}

type WebhookConfig struct {
	URL    string `json:"url" validate:"required,url"`
	Method string `json:"method" validate:"required,oneof=GET POST PUT PATCH"`
}

type EmailConfig struct {
	Template string   `json:"template" validate:"required"`
	To       []string `json:"to" validate:"required,min=1,dive,email"`
}

func (TaskConfig) Kind() StepKind     { return StepKindTask }
func (ApprovalConfig) Kind() StepKind { return StepKindApproval }
func (DelayConfig) Kind() StepKind    { return StepKindDelay }
func (WebhookConfig) Kind() StepKind  { return StepKindWebhook }
func (EmailConfig) Kind() StepKind    { return StepKindEmail }

// DecodeStepConfig parses raw into the schema for kind and validates it.
// Unknown fields are rejected so that misspelled keys fail at save time.
func DecodeStepConfig(kind StepKind, raw []byte) (StepConfig, error) {
	var cfg StepConfig
	switch kind {
	case StepKindTask, "":
		cfg = &TaskConfig{}
	case StepKindApproval:
		cfg = &ApprovalConfig{}
	case StepKindDelay:
		cfg = &DelayConfig{}
	case StepKindWebhook:
		cfg = &WebhookConfig{}
	case StepKindEmail:
		cfg = &EmailConfig{}
	default:
		return nil, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown step kind %q", kind)}
	}

	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, &ValidationError{Field: "config", Message: err.Error()}
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, &ValidationError{Field: "config", Message: err.Error()}
	}
	return cfg, nil
}

// ValidateSteps checks a step list before it is saved: at least one step,
// positive unique orders, and a valid config for every kind.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return ErrNoStepsDefined
	}

	seen := make(map[int]struct{}, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].name", i), Message: "required"}
		}
		if s.Order < 1 {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].order", i), Message: "must be >= 1"}
		}
		if _, dup := seen[s.Order]; dup {
			return &ValidationError{Field: fmt.Sprintf("steps[%d].order", i), Message: fmt.Sprintf("duplicate order %d", s.Order)}
		}
		seen[s.Order] = struct{}{}

		if s.Kind == "" {
			s.Kind = StepKindTask
		}
		if _, err := DecodeStepConfig(s.Kind, s.Config); err != nil {
			return err
		}
	}
	return nil
}

// MissingStartFields returns the RequiredFields of a task step absent from data.
func MissingStartFields(step *Step, data map[string]any) ([]string, error) {
	cfg, err := DecodeStepConfig(step.Kind, step.Config)
	if err != nil {
		return nil, err
	}
	task, ok := cfg.(*TaskConfig)
	if !ok {
		return nil, nil
	}
	var missing []string
	for _, f := range task.RequiredFields {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing, nil
}
