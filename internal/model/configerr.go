package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

type CueErrorDetail struct {
	Path    string // Lenovo.DaysToRefresh
	Code    string // missing_required | unknown_field | type_mismatch | conflicting_values | out_of_range ...
	Message string // Human text
	Pos     CueErrorPosition
	Raw     string // original message
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

var (
	reIncomplete  = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed  = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reRange       = regexp.MustCompile(`(?i)invalid value .* \(out of bound`)
	reConflict    = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reExpectedGot = regexp.MustCompile(`(?i)expected .* got .*`)
)

// CueErrDetails converts an error returned by LoadConfig into a list of
// details suitable for logging. Errors without a CUE origin produce a
// single generic detail.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())
		code, msg := classify(raw, path)

		key := path + "\x00" + code
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     position(e),
			Raw:     e.Error(),
		})
	}
	if len(out) == 0 {
		out = append(out, CueErrorDetail{Code: "validation_error", Message: err.Error(), Raw: err.Error()})
	}
	return out
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	var zero CueErrorPosition
	return zero
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Remove leading definition (#Config)
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func classify(raw, path string) (code, msg string) {
	switch {
	case reNotAllowed.MatchString(raw):
		return "unknown_field", fmt.Sprintf("Field %s is not allowed", last(path))
	case reIncomplete.MatchString(raw):
		return "missing_required", fmt.Sprintf("Field %s is required", last(path))
	case reRange.MatchString(raw):
		return "out_of_range", fmt.Sprintf("Field %s is out of range", last(path))
	case reConflict.MatchString(raw):
		return "conflicting_values", fmt.Sprintf("Conflicting values for %s", last(path))
	case reExpectedGot.MatchString(raw):
		return "type_mismatch", fmt.Sprintf("Field %s has wrong type/value", last(path))
	default:
		return "validation_error", raw
	}
}

func last(p string) string {
	if p == "" {
		return p
	}
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
