package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Bind decodes the JSON body into dst and validates its struct tags. Failures
// wrap shared.ErrValidation.
func Bind(r *http.Request, dst any) error {
	if err := DecodeJSON(r, dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, shared.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%s: %w", strings.Join(parts, "; "), shared.ErrValidation)
		}
		return fmt.Errorf("%v: %w", err, shared.ErrValidation)
	}
	return nil
}
