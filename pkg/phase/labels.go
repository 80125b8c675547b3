package phase

import "fmt"

// humanLabels gives each phase its user-facing progress label (§4.H:
// "a registered human label per phase name").
var humanLabels = map[Name]string{
	Concept:      "Developing concept",
	Constitution: "Establishing characters and setting",
	Plan:         "Outlining chapters",
	Write:        "Writing",
	Polish:       "Polishing prose",
	Cover:        "Designing cover",
	Finalize:     "Assembling manuscript",
}

// HumanLabel returns the registered label for name, falling back to the
// name itself if unregistered.
func HumanLabel(name Name) string {
	if l, ok := humanLabels[name]; ok {
		return l
	}
	return string(name)
}

// WriteLabel renders the fan-out label for one write instance, e.g.
// "Writing Chapter 2, Scene 1" (1-indexed for display).
func WriteLabel(index int64) string {
	chapter, scene := DecomposeWriteIndex(index)
	return fmt.Sprintf("Writing Chapter %d, Scene %d", chapter+1, scene+1)
}

// progressWeights is the weighted contribution of each phase to overall
// completion (§4.H: "writer scenes dominate; concept/plan are small").
// Weights sum to 100; write's weight is divided across however many
// scenes the plan declares, polish's across however many chapters.
var progressWeights = map[Name]int{
	Concept:      5,
	Constitution: 5,
	Plan:         10,
	Write:        60,
	Polish:       10,
	Cover:        5,
	Finalize:     5,
}

// ProgressWeight returns name's share of the overall percent.
func ProgressWeight(name Name) int {
	return progressWeights[name]
}
