package api

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/loqalabs/loqa-scribe/internal/apperr"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateBody checks struct tags and reports failures as an invalid request
// carrying one entry per field.
func validateBody(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.InvalidRequest("invalid request body")
	}
	fields := make([]fieldError, 0, len(verrs))
	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msg := describe(e)
		fields = append(fields, fieldError{Field: e.Field(), Message: msg})
		messages = append(messages, "'"+e.Field()+"' "+msg)
	}
	return apperr.InvalidRequest("%s", strings.Join(messages, "; ")).
		WithDetails(map[string]any{"fields": fields})
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + e.Param()
	case "lte":
		return "must be <= " + e.Param()
	default:
		return "is invalid"
	}
}
