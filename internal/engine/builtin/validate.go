package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// docMeta is the document metadata contract checked by the validation
// engine.
type docMeta struct {
	Title       string   `json:"title" validate:"required,min=3,max=200"`
	Description string   `json:"description" validate:"omitempty,max=500"`
	Version     string   `json:"version" validate:"omitempty,semver"`
	Category    string   `json:"category" validate:"omitempty,oneof=guide tutorial reference changelog"`
	Tags        []string `json:"tags" validate:"omitempty,max=10,dive,min=2,max=32"`
}

// Validator checks document metadata against the docMeta contract.
// An invalid document is still a successful validation run: the result
// reports valid=false with one problem per violated rule.
type Validator struct {
	check *validator.Validate
}

// NewValidator returns the metadata validation engine.
func NewValidator() *Validator {
	return &Validator{check: validator.New()}
}

func (v *Validator) Name() string { return "metadata-validator" }

type validateInput struct {
	Metadata json.RawMessage `json:"metadata"`
}

type validateOutput struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems"`
}

// Process validates the payload's metadata object.
func (v *Validator) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in validateInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode validate payload: %w", err)
	}
	if len(in.Metadata) == 0 {
		return nil, errors.New("validate payload has no metadata")
	}

	var meta docMeta
	if err := json.Unmarshal(in.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := validateOutput{Valid: true, Problems: []string{}}
	if err := v.check.StructCtx(ctx, meta); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validate metadata: %w", err)
		}
		out.Valid = false
		for _, fe := range fieldErrs {
			out.Problems = append(out.Problems, describeViolation(fe))
		}
	}

	return json.Marshal(out)
}

// describeViolation renders one field error as a human-readable problem.
func describeViolation(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: fails %s", fe.Field(), fe.Tag())
}
