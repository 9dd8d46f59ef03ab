package bot

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/sliceline/pizzabot/internal/models"
)

// phonePattern accepts Russian numbers with an optional +7/8 prefix and
// tolerates common separators, e.g. "+7 999 123-45-67" or "89991234567".
var phonePattern = regexp.MustCompile(`^(\+7|8|7)?\d{10}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// validateEmail normalizes and validates an email address.
func validateEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidEmail, raw)
	}
	return addr.Address, nil
}

// validatePhone normalizes and validates a phone number.
func validatePhone(raw string) (string, error) {
	stripped := phoneSeparators.Replace(strings.TrimSpace(raw))
	if !phonePattern.MatchString(stripped) {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidPhone, raw)
	}
	return stripped, nil
}
