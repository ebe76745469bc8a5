package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"fintrack/backend/internal/domain"
)

// Normalize turns a driver error into a domain error. Errors that already belong
// to the domain taxonomy pass through; anything else becomes a *domain.StoreError
// holding only a message.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrValidation,
		domain.ErrInsufficientStock,
		domain.ErrConflict,
		domain.ErrStore,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.StoreError{Op: op, Message: "request cancelled before the store answered"}
	}
	return &domain.StoreError{Op: op, Message: Describe(err)}
}

// Describe renders any value as a readable message. It is used for errors coming
// from external clients whose shape is not known in advance.
func Describe(v any) string {
	if v == nil || isNilPointer(v) {
		return "unknown error"
	}
	switch val := v.(type) {
	case error:
		if msg := strings.TrimSpace(val.Error()); msg != "" {
			return msg
		}
		return fmt.Sprintf("%T", val)
	case fmt.Stringer:
		return val.String()
	case string:
		if strings.TrimSpace(val) == "" {
			return "unknown error"
		}
		return val
	case []byte:
		return Describe(string(val))
	case map[string]any:
		for _, key := range []string{"message", "error", "detail", "msg"} {
			if inner, ok := val[key]; ok {
				return Describe(inner)
			}
		}
	}

	if encoded, err := json.Marshal(v); err == nil && string(encoded) != "{}" && string(encoded) != "null" {
		return string(encoded)
	}
	return fmt.Sprintf("%+v", v)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
