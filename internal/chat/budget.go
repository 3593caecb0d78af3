package chat

// Token ceilings, matching the upstream billing model.
const (
	// MaxTokens is the system-wide context limit.
	MaxTokens = 8192
	// UserMaxTokens closes a conversation and rolls it over.
	UserMaxTokens = 1024
	// MaxResponseTokens caps the assistant reply length.
	MaxResponseTokens = 500
	// ImageTokenEstimate is the flat charge per image part; true image
	// token accounting is not available from the upstream API.
	ImageTokenEstimate = 500
)

type TokenCount struct {
	UserTokens      int `json:"user_tokens"`
	AssistantTokens int `json:"assistant_tokens"`
	Total           int `json:"total"`
}

// TextCounter is the counting contract the budget relies on.
type TextCounter interface {
	Count(text string) int
}

// Budget computes per-role token sums and decides rollover.
type Budget struct {
	counter TextCounter
}

func NewBudget(counter TextCounter) *Budget {
	return &Budget{counter: counter}
}

// Totals recomputes token usage over the whole message list. Text parts
// are counted once; image parts are excluded from counting and instead
// charge ImageTokenEstimate each against user tokens.
func (b *Budget) Totals(messages []Message) TokenCount {
	var tc TokenCount
	for _, m := range messages {
		n := b.counter.Count(m.TextContent())
		switch m.Role {
		case RoleUser:
			tc.UserTokens += n + m.ImageCount()*ImageTokenEstimate
		case RoleAssistant:
			tc.AssistantTokens += n
		}
	}
	tc.Total = tc.UserTokens + tc.AssistantTokens
	return tc
}

// CeilingReached reports whether the conversation must roll over.
func (b *Budget) CeilingReached(tc TokenCount) bool {
	return tc.Total >= UserMaxTokens
}

// WithinCallLimit checks the advisory pre-call ceiling on the sanitized
// message list. The result does not gate the call; callers log and
// proceed. Kept as a seam for a future truncation policy.
func (b *Budget) WithinCallLimit(messages []Message) (bool, int) {
	sanitized := Sanitize(messages)
	n := 0
	for _, m := range sanitized {
		n += b.counter.Count(m.Content)
	}
	return n <= MaxTokens-MaxResponseTokens, n
}
