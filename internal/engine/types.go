package engine

// Chat roles understood by the engine.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions holds sampling parameters for a chat call. A nil Temperature
// and a zero MaxTokens leave the model defaults in place.
type ChatOptions struct {
	Temperature *float64
	MaxTokens   int
}

// PullProgress is one status update from a model download.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// Percent returns download completion in [0, 100], or -1 when the update
// carries no size (manifest and verification steps).
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	pct := int(p.Completed * 100 / p.Total)
	return min(max(pct, 0), 100)
}
