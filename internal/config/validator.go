package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// RegisterCustomValidators registers varpol-specific validation rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return fmt.Errorf("failed to register loglevel validator: %w", err)
	}
	if err := v.RegisterValidation("hexfingerprint", validateHexFingerprint); err != nil {
		return fmt.Errorf("failed to register hexfingerprint validator: %w", err)
	}
	return nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	level := fl.Field().String()
	for _, l := range logLevels {
		if level == l {
			return true
		}
	}
	return false
}

// validateHexFingerprint accepts a SHA-256 digest in lowercase hex.
func validateHexFingerprint(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 64 || s != strings.ToLower(s) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

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

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "file":
		return fmt.Sprintf("%s must name an existing file", field)
	case "loglevel":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(logLevels, " "))
	case "hexfingerprint":
		return fmt.Sprintf("%s must be a 64-character lowercase hex SHA-256 fingerprint", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
