package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// ValidationError is returned when a request body cannot be decoded into a
// ReadingInput. Field is the offending JSON key, when known.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid reading: " + e.Reason
	}
	return fmt.Sprintf("invalid reading: field %q: %s", e.Field, e.Reason)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// DecodeReading decodes one JSON object into a ReadingInput. Missing keys and
// explicit nulls stay absent; unknown keys are ignored. Anything other than a
// single object, including a bare null, is rejected.
func DecodeReading(r io.Reader) (domain.ReadingInput, error) {
	dec := json.NewDecoder(r)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return domain.ReadingInput{}, validationFrom(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.ReadingInput{}, &ValidationError{Reason: "unexpected data after JSON object"}
	}
	return UnmarshalReading(raw)
}

// UnmarshalReading is DecodeReading for a byte slice.
func UnmarshalReading(data []byte) (domain.ReadingInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return domain.ReadingInput{}, &ValidationError{Reason: "empty body"}
	}
	if data[0] != '{' {
		return domain.ReadingInput{}, &ValidationError{Reason: "body must be a JSON object"}
	}

	var in domain.ReadingInput
	if err := json.Unmarshal(data, &in); err != nil {
		return domain.ReadingInput{}, validationFrom(err)
	}
	return in, nil
}

func validationFrom(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Field:  typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	if errors.Is(err, io.EOF) {
		return &ValidationError{Reason: "empty body"}
	}
	return &ValidationError{Reason: err.Error()}
}
