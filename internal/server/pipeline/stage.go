// Package pipeline forwards the parse/compile/visualize/simulate stages to
// the compute engine and relays its answers.
package pipeline

// Stage names one compute engine operation. The value doubles as the
// upstream path segment.
type Stage string

const (
	Parse     Stage = "parse"
	Compile   Stage = "compile"
	Visualize Stage = "visualize"
	Simulate  Stage = "simulate"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{Parse, Compile, Visualize, Simulate}

// Streaming reports whether the stage answers with an image stream rather
// than a JSON document.
func (s Stage) Streaming() bool {
	return s == Visualize || s == Simulate
}

func (s Stage) Valid() bool {
	switch s {
	case Parse, Compile, Visualize, Simulate:
		return true
	}
	return false
}
