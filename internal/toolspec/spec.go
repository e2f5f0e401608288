package toolspec

// Spec is the static, registration-time description of one tool: the
// metadata the dispatcher and config layer gate on, plus its compiled
// argument shape. Grounded on the teacher's ToolSpec/TypeSpec pair, trimmed
// to what the broker's gating pipeline (spec.md §4.1) actually consults.
type Spec struct {
	Name          string
	Category      Category
	OperationType OperationType
	Description   string
	Args          *ArgsShape

	// RequiredFeatures are preview-feature tags that must all be present in
	// config.previewFeatures before the tool may run (spec.md §4.1 step 1).
	RequiredFeatures []string

	// ConfirmationTemplate, when non-empty, is shown verbatim as the prompt
	// before the confirmation gate lets the call through; when empty, the
	// dispatcher builds a prompt from the tool name and raw arguments
	// (spec.md §6 confirmationRequiredTools).
	ConfirmationTemplate string
}
