package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Verdict-Labs/verdict/internal/domain/wallet"
)

// RegisterCustomValidators registers verdict-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// amount: a non-negative decimal with at most three fractional digits
	if err := v.RegisterValidation("amount", validateAmount); err != nil {
		return fmt.Errorf("failed to register amount validator: %w", err)
	}
	return nil
}

// validateAmount accepts any string wallet.ParseAmount accepts.
func validateAmount(fl validator.FieldLevel) bool {
	_, err := wallet.ParseAmount(fl.Field().String())
	return err == nil
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateBaseFile(); err != nil {
		return err
	}

	return nil
}

// validateBaseFile checks that a configured base policy file exists. A
// missing file would otherwise surface only at boot, after the daemon has
// already detached from the operator's terminal.
func (c *Config) validateBaseFile() error {
	if c.Policy.BaseFile == "" {
		return nil
	}
	if _, err := os.Stat(c.Policy.BaseFile); err != nil {
		return fmt.Errorf("policy.base_file: %w", err)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "amount":
		return fmt.Sprintf("%s must be a decimal amount with at most three decimals", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
