package config

import (
	"fmt"
	"strconv"

	"nbsmoke/internal/expect"
)

// ValidationError is a single problem with the configuration.
type ValidationError struct {
	Key     string // setting, e.g. "max_attempts" or "expectations[3].field"
	EnvVar  string // environment variable the value came from, if any
	Value   string // offending value, if any
	Message string
}

// ValidationResult contains every problem found.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Validate checks cfg and collects all errors rather than stopping at the
// first one.
func Validate(cfg Config) ValidationResult {
	var errs []ValidationError

	if cfg.Document == "" {
		errs = append(errs, ValidationError{Key: "document", Message: "required but not set"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{Key: "timeout", Value: cfg.Timeout.String(), Message: "must be positive"})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Key: "max_attempts", Value: strconv.Itoa(cfg.MaxAttempts), Message: "must be at least 1"})
	}
	if cfg.RetryOn == "" {
		errs = append(errs, ValidationError{Key: "retry_on", Message: "must not be empty"})
	}
	errs = append(errs, ValidateExpectations(cfg.Expectations)...)

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// ValidateExpectations checks the expectation list on its own, for
// commands that never execute the document.
func ValidateExpectations(exps []expect.Expectation) []ValidationError {
	var errs []ValidationError
	for i, exp := range exps {
		key := fmt.Sprintf("expectations[%d]", i)
		if exp.Contains == "" {
			errs = append(errs, ValidationError{Key: key + ".contains", Message: "must not be empty"})
		}
		if !expect.ValidField(exp.Field) {
			errs = append(errs, ValidationError{
				Key:     key + ".field",
				Value:   string(exp.Field),
				Message: "must be text, data, data:<mime> or source",
			})
		}
		if exp.Cell < 0 {
			errs = append(errs, ValidationError{Key: key + ".cell", Value: strconv.Itoa(exp.Cell), Message: "must not be negative"})
		}
		if exp.Output < 0 {
			errs = append(errs, ValidationError{Key: key + ".output", Value: strconv.Itoa(exp.Output), Message: "must not be negative"})
		}
		if exp.Tag != "" && exp.Cell != 0 {
			errs = append(errs, ValidationError{Key: key, Message: "set either cell or tag, not both"})
		}
	}
	return errs
}

// FormatError formats a ValidationError into a human-readable message.
func FormatError(err ValidationError) string {
	source := err.Key
	if err.EnvVar != "" {
		source = fmt.Sprintf("%s (%s)", err.Key, err.EnvVar)
	}
	if err.Value != "" {
		return fmt.Sprintf("%s: '%s' %s", source, err.Value, err.Message)
	}
	return fmt.Sprintf("%s: %s", source, err.Message)
}

// FormatErrors formats all validation errors, one message per error.
func FormatErrors(errs []ValidationError) []string {
	messages := make([]string, len(errs))
	for i, err := range errs {
		messages[i] = FormatError(err)
	}
	return messages
}
