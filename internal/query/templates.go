package query

import "github.com/notebookd/notebookd/internal/rag"

// Template is a pre-built question users can run against a notebook without
// writing their own prompt.
type Template struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Category         string   `json:"category"`
	UseCase          string   `json:"use_case"`
	QuestionTemplate string   `json:"question_template"`
	Mode             rag.Mode `json:"mode"`
}

// templates is the fixed catalog, ordered for display.
var templates = []Template{
	{
		ID:               "summarize_all",
		Name:             "Summarize All Documents",
		Category:         "Overview",
		UseCase:          "Get a quick overview of everything in the notebook",
		QuestionTemplate: "Provide a comprehensive summary of all the documents, covering the main topics and key takeaways.",
		Mode:             rag.ModeHybrid,
	},
	{
		ID:               "key_topics",
		Name:             "Identify Key Topics",
		Category:         "Overview",
		UseCase:          "Discover the main themes across the corpus",
		QuestionTemplate: "What are the key topics and themes covered across these documents? List each with a one-sentence description.",
		Mode:             rag.ModeGlobal,
	},
	{
		ID:               "action_items",
		Name:             "Extract Action Items",
		Category:         "Analysis",
		UseCase:          "Pull out tasks, decisions, and follow-ups",
		QuestionTemplate: "List every action item, decision, or follow-up mentioned in the documents, with who is responsible where stated.",
		Mode:             rag.ModeLocal,
	},
	{
		ID:               "contradictions",
		Name:             "Find Contradictions",
		Category:         "Analysis",
		UseCase:          "Spot statements that disagree between documents",
		QuestionTemplate: "Are there any contradictions or inconsistencies between the documents? Describe each one and cite the conflicting statements.",
		Mode:             rag.ModeGlobal,
	},
	{
		ID:               "timeline",
		Name:             "Build a Timeline",
		Category:         "Analysis",
		UseCase:          "Order the events described in the documents",
		QuestionTemplate: "Construct a chronological timeline of the events described in the documents.",
		Mode:             rag.ModeHybrid,
	},
	{
		ID:               "open_questions",
		Name:             "Open Questions",
		Category:         "Research",
		UseCase:          "Find what the documents leave unanswered",
		QuestionTemplate: "What questions do these documents raise but not answer? List the most important open questions.",
		Mode:             rag.ModeHybrid,
	},
}

// Templates returns the catalog.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

// TemplateByID returns the template and whether it exists.
func TemplateByID(id string) (Template, bool) {
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
