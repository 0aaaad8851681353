package chat

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())
	strip    = bluemonday.StrictPolicy()
)

type participantInput struct {
	Name string `json:"name" validate:"required,min=1,max=25"`
}

// sanitizePasses bounds the strip/decode loop for nested entity encodings.
const sanitizePasses = 8

// Sanitize strips markup and surrounding whitespace from user text.
// StrictPolicy escapes what it keeps, so entities are decoded back and the
// result is stripped again until it no longer changes: entity-encoded tags
// never survive as real markup.
func Sanitize(s string) string {
	for range sanitizePasses {
		escaped := strip.Sanitize(s)
		next := html.UnescapeString(escaped)
		if next == s {
			return strings.TrimSpace(next)
		}
		s = next
	}
	// Still unstable: keep the escaped form rather than any decoded markup.
	return strings.TrimSpace(strip.Sanitize(s))
}

// NormalizeName returns the sanitized participant name or ErrInvalidInput.
func NormalizeName(raw string) (string, error) {
	name := Sanitize(raw)
	if err := validateStruct(participantInput{Name: name}); err != nil {
		return "", OpError{Op: "chat.NormalizeName", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return name, nil
}

// NormalizeMessage validates in and returns it with sanitized text.
func NormalizeMessage(in MessageInput) (MessageInput, error) {
	in.To = strings.TrimSpace(in.To)
	in.Type = strings.TrimSpace(in.Type)
	if err := validateStruct(in); err != nil {
		return MessageInput{}, OpError{Op: "chat.NormalizeMessage", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	in.Text = Sanitize(in.Text)
	if in.Text == "" {
		return MessageInput{}, OpError{Op: "chat.NormalizeMessage", Kind: ErrInvalidInput, Msg: `"text" is empty after removing markup`}
	}
	return in, nil
}

// validateStruct reports the first failing field in a client-readable form.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%q is required", field)
	case "min":
		return fmt.Errorf("%q must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Errorf("%q must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%q must be one of [%s]", field, fe.Param())
	default:
		return fmt.Errorf("%q failed %s", field, fe.Tag())
	}
}
