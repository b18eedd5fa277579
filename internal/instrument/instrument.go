// Package instrument handles stock instrument code validation.
package instrument

import (
	"fmt"
	"regexp"

	"github.com/stocksim/portfolio-engine/internal/faults"
)

// codeRegex matches KRX-style 6-digit instrument codes, e.g. 005930.
var codeRegex = regexp.MustCompile(`^\d{6}$`)

// ValidateCode checks that code is a well-formed instrument code.
func ValidateCode(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: invalid instrument code %q (expected 6 digits)", faults.ErrValidation, code)
	}
	return nil
}
