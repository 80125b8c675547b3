package phase

import "github.com/invopop/jsonschema"

// outputTypes maps each phase to the Go type its Checkpoint payload
// unmarshals into, used only to generate the introspection schemas
// below. Structural validation at execution time is done by each
// phase's Validate func, which can check invariants (non-empty arrays,
// non-whitespace text) a generated schema can't express.
var outputTypes = map[Name]any{
	Concept:      ConceptOutput{},
	Constitution: ConstitutionOutput{},
	Plan:         PlanOutput{},
	Write:        WriteOutput{},
	Polish:       PolishOutput{},
	Cover:        CoverOutput{},
	Finalize:     FinalizeOutput{},
}

// Schemas generates a JSON Schema document for every phase's output
// type, served by the HTTP API for client-side introspection of the
// checkpoint payload shapes.
func Schemas() map[Name]*jsonschema.Schema {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	out := make(map[Name]*jsonschema.Schema, len(outputTypes))
	for name, v := range outputTypes {
		out[name] = reflector.Reflect(v)
	}
	return out
}
