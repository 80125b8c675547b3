package phase

// Name identifies one phase in the canonical literary pipeline.
type Name string

const (
	Concept      Name = "concept"
	Constitution Name = "constitution"
	Plan         Name = "plan"
	Write        Name = "write"
	Polish       Name = "polish"
	Cover        Name = "cover"
	Finalize     Name = "finalize"
)

// EncodeWriteIndex packs a (chapter, scene) pair into the single int64
// checkpoint index the write phase fans out over, per the scheme named
// directly in the data model: index = chapter*10000 + scene.
func EncodeWriteIndex(chapter, scene int) int64 {
	return int64(chapter)*10000 + int64(scene)
}

// DecomposeWriteIndex reverses EncodeWriteIndex, used by the progress
// reporter to render "Writing Chapter X, Scene Y".
func DecomposeWriteIndex(index int64) (chapter, scene int) {
	return int(index / 10000), int(index % 10000)
}

// ConceptInput is the sole input to the concept phase: the job's raw
// prompt and genre hint.
type ConceptInput struct {
	Prompt string `json:"prompt"`
	Genre  string `json:"genre,omitempty"`
}

// ConceptOutput distills the prompt into a workable premise.
type ConceptOutput struct {
	Logline string `json:"logline"`
	Themes  []string `json:"themes"`
	Tone    string `json:"tone"`
}

// ConstitutionInput carries the concept forward.
type ConstitutionInput struct {
	Concept ConceptOutput `json:"concept"`
}

// ConstitutionOutput fixes the durable facts a writer must not
// contradict: cast, setting, voice rules.
type ConstitutionOutput struct {
	Characters []Character `json:"characters"`
	Setting    string      `json:"setting"`
	VoiceRules []string    `json:"voiceRules"`
}

// Character is one named cast member established by the constitution
// phase and referenced by every downstream write instance.
type Character struct {
	Name string `json:"name"`
	Role string `json:"role"`
	Bio  string `json:"bio"`
}

// PlanInput carries concept and constitution forward.
type PlanInput struct {
	Concept      ConceptOutput      `json:"concept"`
	Constitution ConstitutionOutput `json:"constitution"`
	TargetWords  int                `json:"targetWords"`
}

// PlanOutput is the fan-out source for the write phase: one ChapterPlan
// per chapter, each declaring its scene count.
type PlanOutput struct {
	Title    string        `json:"title"`
	Chapters []ChapterPlan `json:"chapters"`
}

// ChapterPlan describes one chapter's scene breakdown before any prose
// exists.
type ChapterPlan struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	SceneCount int      `json:"sceneCount"`
	Beats      []string `json:"beats"`
}

// WriteInput is built per (chapter, scene) instance from the plan and
// the constitution, plus the immediately preceding scene's text for
// continuity.
type WriteInput struct {
	Constitution  ConstitutionOutput `json:"constitution"`
	ChapterTitle  string             `json:"chapterTitle"`
	ChapterIndex  int                `json:"chapterIndex"`
	SceneIndex    int                `json:"sceneIndex"`
	Beat          string             `json:"beat"`
	PrecedingText string             `json:"precedingText,omitempty"`
}

// WriteOutput is one scene's prose.
type WriteOutput struct {
	Text string `json:"text"`
}

// PolishInput operates on the full assembled draft of one chapter
// rather than per-scene (see the design note on why polish fans out
// per-chapter).
type PolishInput struct {
	ChapterTitle string   `json:"chapterTitle"`
	Scenes       []string `json:"scenes"`
	VoiceRules   []string `json:"voiceRules"`
}

// PolishOutput replaces the chapter's scene texts in place.
type PolishOutput struct {
	Scenes []string `json:"scenes"`
}

// CoverInput is the single input to the compound cover subsystem
// (pkg/cover), built from the concept and plan.
type CoverInput struct {
	Title   string   `json:"title"`
	Logline string   `json:"logline"`
	Themes  []string `json:"themes"`
	Genre   string   `json:"genre"`
}

// CoverOutput references the composed cover image, or is absent if the
// cover subsystem exhausted its retry cap.
type CoverOutput struct {
	Location string `json:"location"`
}

// FinalizeInput is assembled from every upstream checkpoint for a
// complete manuscript.
type FinalizeInput struct {
	Title        string
	PlanOutput   PlanOutput
	Scenes       map[int64]string // write/polish index -> final text
	CoverLoc     string
}

// FinalizeOutput is a marker payload; the actual manuscript is written
// separately by the Job Controller once finalize's checkpoint exists.
type FinalizeOutput struct {
	WordCount int `json:"wordCount"`
}
