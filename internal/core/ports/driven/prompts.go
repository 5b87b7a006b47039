package driven

// PromptStore provides access to answer-generation prompt templates.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names. Category instructions are named
// PromptAnswerPrefix + category, e.g. "answer_comparison".
const (
	// PromptAnswerSystem is the system prompt for every answer.
	PromptAnswerSystem = "answer_system"

	// PromptAnswerPrefix prefixes per-category answer instructions.
	PromptAnswerPrefix = "answer_"
)

// Section headers of the user message sent to an LLMService. Generators
// that do not run a language model parse the message by these headers.
const (
	// PromptPassagesHeader precedes the numbered passages, one per "[n] title" line.
	PromptPassagesHeader = "Passages:"

	// PromptCalculationHeader precedes a pre-computed calculation summary.
	PromptCalculationHeader = "Calculation:"

	// PromptQuestionHeader precedes the user's question, which ends the message.
	PromptQuestionHeader = "Question:"
)
