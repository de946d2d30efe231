package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RunRequest is a single intent to run one vendor's script. Model and
// CSVPath are mutually exclusive; both empty means all models.
type RunRequest struct {
	Vendor          Vendor `validate:"required,oneof=Dell Lenovo HP"`
	Model           string `validate:"excluded_with=CSVPath"`
	CSVPath         string `validate:"excluded_with=Model"`
	IncludeFirmware bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate returns an ErrInvalidRequest describing the first violated rule.
func (r RunRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	seen := make(map[string]struct{}, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "excluded_with":
			msg = "model name and csv path are mutually exclusive"
		case "required", "oneof":
			msg = fmt.Sprintf("vendor %q is not supported", string(r.Vendor))
		default:
			msg = fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
		}
		if _, ok := seen[msg]; ok {
			continue
		}
		seen[msg] = struct{}{}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

// IsBatch reports whether the request reads models from a CSV file.
func (r RunRequest) IsBatch() bool {
	return r.CSVPath != ""
}
