package executor

import (
	"encoding/json"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/phase"
)

// textInstructions holds the fixed part of each text phase's system
// prompt: what the phase's job is, independent of any one job's input.
var textInstructions = map[phase.Name]string{
	phase.Concept: "You distill a raw story prompt into a workable premise: a one-sentence logline, " +
		"the story's core themes, and its tone.",
	phase.Constitution: "You establish the durable facts a novel's writers must never contradict: the " +
		"named cast, the setting, and a short list of voice rules governing prose style.",
	phase.Plan: "You break a novel into chapters. Each chapter declares a scene count and a one-line " +
		"beat for every scene, so a writer can draft each scene independently.",
	phase.Write: "You draft one scene of prose, continuing directly from the preceding scene's text " +
		"when given one, honoring the established cast, setting and voice rules exactly.",
	phase.Polish: "You smooth the transitions between a chapter's already-drafted scenes into a single " +
		"coherent read without changing plot events, honoring the voice rules.",
}

// promptFor renders the system/user messages and token budget for a text
// phase instance from its already-built input struct.
func promptFor(name phase.Name, input any) (system, user string, maxTokens int, err error) {
	instructions, ok := textInstructions[name]
	if !ok {
		return "", "", 0, fmt.Errorf("executor: phase %s has no text prompt template", name)
	}

	schema := phase.Schemas()[name]
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", "", 0, fmt.Errorf("executor: marshal %s output schema: %w", name, err)
	}
	system = fmt.Sprintf("%s\n\nRespond with a single JSON object matching this schema, and nothing else:\n%s", instructions, schemaJSON)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", "", 0, fmt.Errorf("executor: marshal %s input: %w", name, err)
	}
	user = string(inputJSON)

	switch name {
	case phase.Write, phase.Polish:
		maxTokens = 4096
	case phase.Plan:
		maxTokens = 8192
	default:
		maxTokens = 2048
	}
	return system, user, maxTokens, nil
}
