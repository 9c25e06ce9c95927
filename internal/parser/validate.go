package parser

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/mkale/inboxtriage/pkg/models"
)

const minBodyLength = 10

// RFC-lite: something@something.tld, no attempt at full RFC 5322.
var senderPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validate runs the advisory checks on a parsed email. Results are
// recorded on the email, never returned as a failure: an email with
// validation errors still proceeds to enrichment.
func validate(email *models.CanonicalEmail) []string {
	var errs []string
	if !senderPattern.MatchString(email.Sender) {
		errs = append(errs, fmt.Sprintf("sender %q is not a valid email address", email.Sender))
	}
	if email.Subject == "" {
		errs = append(errs, "subject is empty")
	}
	if utf8.RuneCountInString(email.Body) < minBodyLength {
		errs = append(errs, fmt.Sprintf("body shorter than %d characters", minBodyLength))
	}
	if email.SentAt.IsZero() {
		errs = append(errs, "sent date is missing")
	}
	return errs
}
