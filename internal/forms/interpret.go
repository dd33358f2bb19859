package forms

import (
	"strconv"

	"pipedeck/internal/submit"
)

// CheckedToken is the literal value browsers post for an activated checkbox.
const CheckedToken = "on"

// NullToken is the literal string that coerces to an absent value.
const NullToken = "None"

// Fixed holds the parameters the panel sets on every bundle independent of
// the submitted form.
type Fixed struct {
	LogPath        string
	ConfigPath     string
	Subproject     string
	ComputePackage string
}

// Interpret reconciles raw submitted form values against the form model and
// produces a typed argument bundle.
//
// Every destination key the form defines is read from raw; a missing or empty
// value arrives that way for unchecked checkboxes and coerces to false. The
// one exception is the subproject key, which keeps nil because "no
// subproject" is a meaningful state. Raw keys the form does not define are
// stale browser fields and are dropped, not rejected.
//
// The bundle always carries the confirmation flag pre-answered: once the
// operator reached submission, destructive actions do not get an interactive
// yes/no prompt to answer.
func Interpret(raw map[string]string, form FormModel, fixed Fixed) submit.Args {
	args := submit.Args{}

	for _, dest := range form.DestKeys() {
		value, present := raw[dest]
		if !present || value == "" {
			if dest == submit.DestSubproject {
				args[dest] = nil
			} else {
				args[dest] = false
			}
			continue
		}
		args[dest] = Coerce(value)
	}

	args[submit.DestForceYes] = true
	args[submit.DestLogfile] = fixed.LogPath
	args[submit.DestConfigFile] = fixed.ConfigPath
	args[submit.DestComputePackage] = fixed.ComputePackage
	if fixed.Subproject == "" {
		args[submit.DestSubproject] = nil
	} else {
		args[submit.DestSubproject] = fixed.Subproject
	}

	return args
}

// Coerce converts one raw form value to its typed form. The literal value
// decides, not the descriptor kind: the checkbox token becomes true, a
// lossless integer becomes int, a parseable number becomes float64, the null
// token becomes nil, anything else stays a string.
func Coerce(value string) any {
	switch value {
	case CheckedToken:
		return true
	case NullToken:
		return nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
