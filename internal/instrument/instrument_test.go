package instrument

import (
	"errors"
	"testing"

	"github.com/stocksim/portfolio-engine/internal/faults"
)

func TestValidateCode_Valid(t *testing.T) {
	for _, code := range []string{"005930", "000660", "035720"} {
		if err := ValidateCode(code); err != nil {
			t.Errorf("expected %q to be valid, got %v", code, err)
		}
	}
}

func TestValidateCode_Invalid(t *testing.T) {
	for _, code := range []string{"", "5930", "0059301", "00593a", "AAPL"} {
		err := ValidateCode(code)
		if err == nil {
			t.Errorf("expected %q to be rejected", code)
			continue
		}
		if !errors.Is(err, faults.ErrValidation) {
			t.Errorf("expected ErrValidation for %q, got %v", code, err)
		}
	}
}
