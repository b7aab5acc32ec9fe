package llm

import "github.com/kyleking/askdb/internal/types"

// SystemPrompt frames every generation request.
const SystemPrompt = "You are a data analyst that writes safe, read-only SQLite-compatible SQL. " +
	"Only reference tables present in the provided schema summary."

const instruction = "Generate a single SQL query that answers the question. " +
	"Respond with a JSON object containing keys 'sql' and 'rationale'."

// BuildUserPrompt renders the schema summary, the instruction and the question.
func BuildUserPrompt(question string, schema types.Schema) string {
	return "Schema:\n" + schema.String() + "\n\nInstruction: " + instruction + "\nQuestion: " + question
}
