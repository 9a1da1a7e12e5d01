package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"safetyalert/internal/types"
)

// Validator wraps go-playground/validator. Field names in errors are the JSON
// names clients send.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator with the relay's custom tags:
//
//	category - a non-blank service category after whitespace removal.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return len(strings.Join(strings.Fields(fl.Field().String()), "")) > 0
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct runs the struct tags of s and converts the first failure
// into a validation AppError naming the field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fe := verrs[0]
	field := fe.Field()
	details := map[string]any{"field": field}

	switch fe.Tag() {
	case "required", "category":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, field+" is required", err, details)
	case "email":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEmail, field+" must be a valid email address", err, details)
	case "max":
		if fe.Kind() == reflect.Slice {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationTooManyEmails,
				fmt.Sprintf("%s must contain at most %s entries", field, fe.Param()), err, details)
		}
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue,
			fmt.Sprintf("%s must be at most %s characters", field, fe.Param()), err, details)
	case "min":
		if fe.Kind() == reflect.Slice {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
				fmt.Sprintf("%s must contain at least %s entries", field, fe.Param()), err, details)
		}
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue, field+" is invalid", err, details)
}
