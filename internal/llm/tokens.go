package llm

import "encoding/json"

// messageOverhead approximates role and framing tokens per message.
const messageOverhead = 4

// EstimateCounter is a provider-agnostic [TokenCounter] using the
// len/4 heuristic. It over-counts slightly for English prose, which
// keeps trimmed histories under the real provider limit.
type EstimateCounter struct{}

// CountTokens implements [TokenCounter].
func (EstimateCounter) CountTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead + estimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += estimateTokens(tc.Function.Name)
			if b, err := json.Marshal(tc.Function.Arguments); err == nil {
				total += estimateTokens(string(b))
			}
		}
	}
	return total
}

// estimateTokens returns a rough token estimate for a string.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
