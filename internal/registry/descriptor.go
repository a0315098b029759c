package registry

// WorkerClass is the category of analyzer service a tool belongs to. Every
// canonical tool name maps to exactly one class.
type WorkerClass string

const (
	WorkerStatic      WorkerClass = "static"
	WorkerDynamic     WorkerClass = "dynamic"
	WorkerPerformance WorkerClass = "performance"
	WorkerAI          WorkerClass = "ai"
)

// AllWorkerClasses lists the classes in dispatch order.
var AllWorkerClasses = []WorkerClass{WorkerStatic, WorkerDynamic, WorkerPerformance, WorkerAI}

// Valid reports whether the class is one of the known analyzer categories.
func (c WorkerClass) Valid() bool {
	switch c {
	case WorkerStatic, WorkerDynamic, WorkerPerformance, WorkerAI:
		return true
	}
	return false
}

// ParamSpec describes one typed configuration parameter of a tool.
type ParamSpec struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"` // string, int, float, bool, enum
	Default any      `json:"default,omitempty"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// ToolDescriptor is the static metadata for one analysis tool. New tools are
// catalog entries, not new types.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	WorkerClass WorkerClass `json:"worker_class"`
	Tags        []string    `json:"tags,omitempty"`
	Languages   []string    `json:"languages,omitempty"`
	Available   bool        `json:"available"`
	Params      []ParamSpec `json:"params,omitempty"`
	Aliases     []string    `json:"aliases,omitempty"`
}

// HasTag reports whether the descriptor carries the given tag.
func (d *ToolDescriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether the tool can analyze the given language.
// A tool with an empty language set is language-agnostic.
func (d *ToolDescriptor) SupportsLanguage(lang string) bool {
	if len(d.Languages) == 0 {
		return true
	}
	for _, l := range d.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
