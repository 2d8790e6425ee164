package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"omnirelay/internal/types"
)

// Validator wraps go-playground/validator with JSON-tag field names and
// pipeline-specific rules.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator constructs the shared request validator.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report field names as their JSON tags so error details match the wire
	// format clients actually send.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("channel_kind", validateChannelKind)

	return &Validator{validate: v, logger: logger}
}

// validateChannelKind accepts any kind the translator registry could resolve,
// including gateway aliases.
func validateChannelKind(fl validator.FieldLevel) bool {
	kind := types.ChannelKind(fl.Field().String())
	switch kind.Canonical() {
	case types.ChannelWhatsApp, types.ChannelTelegram, types.ChannelWebhook:
		return true
	default:
		return false
	}
}

// ValidateStruct checks struct tags on a request body and converts failures
// into a validation AppError with per-field details.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation received an invalid value", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request validation failed", err)
	}

	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describeFieldError(fe)
	}

	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "request validation failed", err, details)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url", "http_url":
		return "must be a valid URL"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "channel_kind":
		return "unsupported channel kind"
	default:
		return fmt.Sprintf("failed validation rule %q", fe.Tag())
	}
}
