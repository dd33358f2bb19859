package submit

import (
	"slices"

	"github.com/urfave/cli/v3"
)

// ValueKind is the declared value kind of one option, as far as the argument
// parser can tell.
type ValueKind int

const (
	KindUnknown ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

// OptionSpec is the raw description of one configurable option of an action,
// extracted from the CLI surface. It is what an argument-parsing library
// knows about a flag, nothing more.
type OptionSpec struct {
	// Long is the long-form option name without dashes; empty for flags that
	// only define a short name.
	Long string
	// Dest is the destination key values are read and written under.
	Dest string
	Kind ValueKind
	// Default is the flag's default value, typed per Kind.
	Default any
	// Choices restricts string options to an enumerated set when non-empty.
	Choices []string
	// Min/Max bound numeric options when HasBounds is set.
	Min, Max  float64
	HasBounds bool
	// SampleBounded marks numeric options whose effective upper bound is the
	// active project's sample count, resolved at form build time.
	SampleBounded bool
}

// Model maps each action name to its option specs, in declaration order.
type Model map[string][]OptionSpec

// Actions returns the model's action names, sorted.
func (m Model) Actions() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Options returns the specs for one action and whether the action exists.
func (m Model) Options(action string) ([]OptionSpec, bool) {
	specs, ok := m[action]
	return specs, ok
}

// FromCommand walks a [cli.Command] tree and builds a Model from its
// subcommands' flags. Flag types outside the four scalar kinds are carried
// through as KindUnknown; classifying them is the introspection layer's call.
func FromCommand(root *cli.Command) Model {
	model := make(Model, len(root.Commands))
	for _, sub := range root.Commands {
		specs := make([]OptionSpec, 0, len(sub.Flags))
		for _, flag := range sub.Flags {
			specs = append(specs, specFromFlag(flag))
		}
		model[sub.Name] = specs
	}
	return model
}

func specFromFlag(flag cli.Flag) OptionSpec {
	name := flag.Names()[0]
	spec := OptionSpec{Dest: destKey(name)}
	if len(name) > 1 {
		spec.Long = name
	}

	switch f := flag.(type) {
	case *cli.BoolFlag:
		spec.Kind = KindBool
		spec.Default = f.Value
	case *cli.IntFlag:
		spec.Kind = KindInt
		spec.Default = f.Value
	case *cli.Float64Flag:
		spec.Kind = KindFloat
		spec.Default = f.Value
	case *cli.StringFlag:
		spec.Kind = KindString
		spec.Default = f.Value
	default:
		spec.Kind = KindUnknown
	}

	return spec
}

// destKey converts a long option name to its destination key: dashes become
// underscores, mirroring how option parsers derive attribute names.
func destKey(long string) string {
	key := make([]byte, len(long))
	for i := 0; i < len(long); i++ {
		if long[i] == '-' {
			key[i] = '_'
		} else {
			key[i] = long[i]
		}
	}
	return string(key)
}

// withChoices restricts the named option of an action to an enumerated set.
func (m Model) withChoices(action, long string, choices []string) Model {
	m.amend(action, long, func(spec *OptionSpec) { spec.Choices = choices })
	return m
}

// withBounds sets literal numeric bounds on the named option of an action.
func (m Model) withBounds(action, long string, min, max float64) Model {
	m.amend(action, long, func(spec *OptionSpec) {
		spec.Min, spec.Max, spec.HasBounds = min, max, true
	})
	return m
}

// withSampleBound marks the named option's upper bound as the active
// project's sample count.
func (m Model) withSampleBound(action, long string) Model {
	m.amend(action, long, func(spec *OptionSpec) { spec.SampleBounded = true })
	return m
}

func (m Model) amend(action, long string, fn func(*OptionSpec)) {
	specs := m[action]
	for i := range specs {
		if specs[i].Long == long {
			fn(&specs[i])
			return
		}
	}
}
