// package forms bridges the submitter's CLI argument model and the panel's
// options form: it classifies options into form element kinds, builds the
// renderable form model, and interprets submitted values back into a typed
// argument bundle.
package forms

import (
	"fmt"

	"pipedeck/internal/shared"
	"pipedeck/internal/submit"
)

// Kind is the form element kind an option maps to.
type Kind string

const (
	Toggle Kind = "toggle"
	Range  Kind = "range"
	Choice Kind = "choice"
	Text   Kind = "text"
)

// kindOrder fixes the presentation order of kind groups.
var kindOrder = []Kind{Toggle, Range, Choice, Text}

// OptionDescriptor is one configurable knob surfaced from the submitter for a
// given action, classified for rendering.
type OptionDescriptor struct {
	// Option is the long-form option name.
	Option string
	// Dest is the destination key used to read and write the value.
	Dest string
	Kind Kind

	// Kind-specific parameters.
	DefaultChecked bool     // Toggle
	Min, Max, Step float64  // Range
	HasBounds      bool     // Range: Min/Max are meaningful
	MaxFromSamples bool     // Range: Max is the active project's sample count
	Allowed        []string // Choice

	// Excluded marks options the panel configures elsewhere; they never
	// reach the form.
	Excluded bool
}

// excludedOptions are configured through dedicated panel controls (compute
// preferences, subproject selection) or are parser plumbing, so they are
// never surfaced as form fields.
var excludedOptions = map[string]bool{
	"compute":            true,
	"env":                true,
	"sp":                 true,
	"help":               true,
	"version":            true,
	"selector-attribute": true,
	"selector-include":   true,
	"selector-exclude":   true,
}

// DescribeOptions extracts the form-facing option descriptors for one action
// from the submitter's argument model.
//
// Options on the exclusion list, and options with no long-form name, are
// marked excluded. Everything else is classified by declared value kind:
// booleans become toggles, numerics become ranges (step 1 for integers, 0.1
// for floats), enumerated strings become choices, remaining strings become
// free text. An option whose kind cannot be classified is a defect in the
// argument model and fails with [shared.ErrTypeMismatch] rather than being
// guessed at.
func DescribeOptions(model submit.Model, action string) ([]OptionDescriptor, error) {
	specs, ok := model.Options(action)
	if !ok {
		return nil, fmt.Errorf("%w: action %q", shared.ErrNotFound, action)
	}

	descriptors := make([]OptionDescriptor, 0, len(specs))
	for _, spec := range specs {
		d := OptionDescriptor{Option: spec.Long, Dest: spec.Dest}

		if spec.Long == "" || excludedOptions[spec.Long] {
			d.Excluded = true
			descriptors = append(descriptors, d)
			continue
		}

		switch {
		case spec.Kind == submit.KindBool:
			d.Kind = Toggle
			d.DefaultChecked, _ = spec.Default.(bool)
		case len(spec.Choices) > 0:
			d.Kind = Choice
			d.Allowed = spec.Choices
		case spec.Kind == submit.KindInt:
			d.Kind = Range
			d.Step = 1
			d.Min, d.Max, d.HasBounds = spec.Min, spec.Max, spec.HasBounds
			d.MaxFromSamples = spec.SampleBounded
		case spec.Kind == submit.KindFloat:
			d.Kind = Range
			d.Step = 0.1
			d.Min, d.Max, d.HasBounds = spec.Min, spec.Max, spec.HasBounds
			d.MaxFromSamples = spec.SampleBounded
		case spec.Kind == submit.KindString:
			d.Kind = Text
		default:
			return nil, fmt.Errorf("%w: option %q of action %q", shared.ErrTypeMismatch, spec.Long, action)
		}

		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}
