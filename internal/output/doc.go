// Package output folds tool call results into the text the model reads.
//
// Tool hosts can return far more data than fits a model's context window. A
// result payload passes through these steps before it becomes the content of
// a tool message:
//
//   - Secret masking: data and stringData of Secret objects are replaced
//     with "***REDACTED***".
//   - Slimming: verbose fields such as metadata.managedFields and the
//     last-applied-configuration annotation are removed.
//   - Sampling: a list whose JSON exceeds the size limit is replaced by its
//     first items, the total count and per-status and per-namespace counts.
//   - Hard cap: any other oversized payload is cut and wrapped in a warning.
//
// Error results are folded as {"error": {"kind", "message", "details"}} so the
// model can tell them apart from data.
//
// # Usage
//
//	p := output.NewProcessor(output.DefaultConfig())
//	folded := p.Fold(result)
//	msg := conversation.ToolMessage(result, folded.Content)
package output
