package gateway

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "gateway: invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// check runs struct validation and converts the result into a ValidationError.
func check(v *validator.Validate, s any) *ValidationError {
	verr := &ValidationError{}
	err := v.Struct(s)
	if err == nil {
		return verr
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		verr.add("_", err.Error())
		return verr
	}
	for _, fe := range fields {
		verr.add(fe.Field(), message(fe))
	}
	return verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value is at least %s.", fe.Param())
	case "oneof":
		return fmt.Sprintf("Must be one of: %s.", fe.Param())
	case "hostname_rfc1123|ip":
		return "Enter a valid host name or IP address."
	default:
		return fmt.Sprintf("Failed the %q check.", fe.Tag())
	}
}

var extensionPattern = regexp.MustCompile(`^[0-9*#]+$`)

const msgDestination = "Enter a dialplan extension, a sip: URI or a +E.164 number."

// normalizeDestination accepts dialplan extensions and sip: URIs as-is and
// rewrites +international numbers to E.164.
func normalizeDestination(raw, region string) (string, bool) {
	d := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(strings.ToLower(d), "sip:"):
		return d, len(d) > len("sip:")
	case strings.HasPrefix(d, "+"):
		num, err := libphonenumber.Parse(d, region)
		if err != nil || !libphonenumber.IsValidNumber(num) {
			return "", false
		}
		return libphonenumber.Format(num, libphonenumber.E164), true
	default:
		return d, extensionPattern.MatchString(d)
	}
}
