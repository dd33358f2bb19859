package forms

import (
	"fmt"

	"pipedeck/internal/project"
	"pipedeck/internal/shared"
)

// Element is one renderable form field: its kind-specific parameters, the
// destination key values post back under, and the option name for labeling.
type Element struct {
	Params map[string]any `json:"params"`
	Dest   string         `json:"dest"`
	Option string         `json:"option"`
}

// FormModel is the options form for one action, grouped by element kind.
// Within each group, option order from the argument model is preserved.
type FormModel struct {
	Action string             `json:"action"`
	Groups map[Kind][]Element `json:"groups"`
}

// DestKeys returns every destination key in the form, in a stable order.
func (f FormModel) DestKeys() []string {
	var keys []string
	for _, kind := range kindOrder {
		for _, el := range f.Groups[kind] {
			keys = append(keys, el.Dest)
		}
	}
	return keys
}

// HasDest reports whether the form contains the destination key.
func (f FormModel) HasDest(dest string) bool {
	for _, elements := range f.Groups {
		for _, el := range elements {
			if el.Dest == dest {
				return true
			}
		}
	}
	return false
}

// Build converts descriptors into a FormModel, resolving project-attribute
// references against the active project. Excluded descriptors are filtered
// out here and never reach the form.
//
// A descriptor that references project attributes (a sample-bounded range)
// cannot be built without an active project; that case fails with
// [shared.ErrInvalidState].
func Build(action string, descriptors []OptionDescriptor, prj *project.Handle) (FormModel, error) {
	form := FormModel{Action: action, Groups: make(map[Kind][]Element)}

	for _, d := range descriptors {
		if d.Excluded {
			continue
		}

		params, err := elementParams(d, prj)
		if err != nil {
			return FormModel{}, err
		}
		form.Groups[d.Kind] = append(form.Groups[d.Kind], Element{
			Params: params,
			Dest:   d.Dest,
			Option: d.Option,
		})
	}

	return form, nil
}

func elementParams(d OptionDescriptor, prj *project.Handle) (map[string]any, error) {
	switch d.Kind {
	case Toggle:
		return map[string]any{"checked": d.DefaultChecked}, nil
	case Choice:
		return map[string]any{"values": d.Allowed}, nil
	case Range:
		params := map[string]any{"step": d.Step}
		if d.HasBounds {
			params["min"] = d.Min
			params["max"] = d.Max
		}
		if d.MaxFromSamples {
			if prj == nil {
				return nil, fmt.Errorf("%w: option %q needs an active project to resolve its bounds", shared.ErrInvalidState, d.Option)
			}
			params["min"] = float64(0)
			params["max"] = float64(prj.SampleCount())
		}
		return params, nil
	default:
		return map[string]any{}, nil
	}
}
