package conversation

// DefaultMaxHistory keeps the system prompt and the last 20 messages.
const DefaultMaxHistory = 21

// windowHistory trims msgs to at most limit messages. A leading system prompt
// is always kept, and the cut never leaves a tool message without the
// assistant message that requested it. limit <= 0 disables the window.
func windowHistory(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}

	var head []Message
	body := msgs
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		head, body = msgs[:1], msgs[1:]
		limit--
	}

	start := len(body) - limit
	if start < 0 {
		start = 0
	}
	for start < len(body) && body[start].Role == RoleTool {
		start++
	}

	out := make([]Message, 0, len(head)+len(body)-start)
	out = append(out, head...)
	return append(out, body[start:]...)
}
