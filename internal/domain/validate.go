package domain

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ValidationError is returned to callers of mutation APIs when a field fails
// validation. Nothing has been written when it is returned.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field string, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		v.RegisterCustomTypeFunc(func(field reflect.Value) any {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				return d.String()
			}
			return nil
		}, decimal.Decimal{})

		_ = v.RegisterValidation("price", func(fl validator.FieldLevel) bool {
			d, err := decimal.NewFromString(fl.Field().String())
			if err != nil {
				return false
			}
			return ValidPrice(d)
		})

		_ = v.RegisterValidation("webhook_url", func(fl validator.FieldLevel) bool {
			return validWebhookURL(fl.Field().String())
		})

		_ = v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
			_, ok := ParseEventType(fl.Field().String())
			return ok
		})

		validate = v
	})
	return validate
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// ValidateProduct checks a normalized product before it reaches the store.
func ValidateProduct(p Product) error {
	return structErrors(validatorInstance().Struct(p))
}

// ValidateSubscription checks a webhook subscription before it is stored.
func ValidateSubscription(s Subscription) error {
	return structErrors(validatorInstance().Struct(s))
}

func structErrors(err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = reasonFor(fe)
	}
	return out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "price":
		return fmt.Sprintf("must be a non-negative number with at most %d decimal places and %d digits", PriceScale, PricePrecision)
	case "webhook_url":
		return "must be an absolute http(s) URL"
	case "event_type":
		return "must be a known event type"
	default:
		return "is invalid"
	}
}
