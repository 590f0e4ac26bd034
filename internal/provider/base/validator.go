package base

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"masjidpay/internal/provider"
)

// Ellipsis marks a value shortened to fit a gateway field.
const Ellipsis = "..."

var validate = validator.New()

// PhoneValidator normalises Malaysian mobile numbers to the 60xxxxxxxxx form.
type PhoneValidator struct {
	pattern *regexp.Regexp
}

// NewPhoneValidator creates a validator for Malaysian mobile numbers
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{pattern: regexp.MustCompile(`^601\d{8,9}$`)}
}

// ValidatePhone validates and normalizes a phone number
func (v *PhoneValidator) ValidatePhone(phone string) (string, error) {
	// Remove any spaces, dashes, or plus signs
	normalized := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(phone)

	// Local format 01x... becomes 601x...
	if strings.HasPrefix(normalized, "0") {
		normalized = "6" + normalized
	}

	if v.pattern.MatchString(normalized) {
		return normalized, nil
	}
	return "", &provider.ValidationError{
		Field:   "payer_mobile",
		Message: fmt.Sprintf("invalid Malaysian mobile number %q", phone),
	}
}

// RequestValidator holds the checks every gateway shares.
type RequestValidator struct {
	phoneValidator *PhoneValidator
}

// NewRequestValidator creates a new request validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{phoneValidator: NewPhoneValidator()}
}

// ValidateBillRequest checks struct tags, amount and mobile format. Callers add
// provider rules on top.
func (v *RequestValidator) ValidateBillRequest(req provider.BillCreateRequest) error {
	if err := validate.Struct(req); err != nil {
		return toValidationError(err)
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return err
	}
	if req.PayerMobile != "" {
		if _, err := v.phoneValidator.ValidatePhone(req.PayerMobile); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeMobile returns the gateway form of a mobile number, or "" when none was given.
func (v *RequestValidator) NormalizeMobile(mobile string) string {
	if strings.TrimSpace(mobile) == "" {
		return ""
	}
	n, err := v.phoneValidator.ValidatePhone(mobile)
	if err != nil {
		return mobile
	}
	return n
}

// ValidateAmount validates a major-unit amount: positive with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &provider.ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &provider.ValidationError{Field: "amount", Message: fmt.Sprintf("amount %s has more than two decimal places", amount)}
	}
	if ToMinorUnits(amount) < 1 {
		return &provider.ValidationError{Field: "amount", Message: "amount is below the smallest unit"}
	}
	return nil
}

// Truncate shortens s so its rune length equals limit, ending with an ellipsis.
// Values within the limit are returned unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= len(Ellipsis) {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-len(Ellipsis)]) + Ellipsis
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &provider.ValidationError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q rule", fe.Tag()),
		}
	}
	return &provider.ValidationError{Message: err.Error()}
}
