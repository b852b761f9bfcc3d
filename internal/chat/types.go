package chat

import (
	"fmt"
	"time"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/document"
)

// Role tags who authored a Message. The set is closed.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAssistant
	RoleSystem
)

// ParseRole converts the wire name of a role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", apperr.ErrInvalidArgument, s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: invalid role %d", apperr.ErrInvalidArgument, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one entry of a conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User and Assistant build messages with the matching role.
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Retrieved is the caller-facing view of a document used for an answer.
type Retrieved struct {
	Metadata document.Metadata `json:"metadata"`
	Snippet  string            `json:"snippet"`
}

// Session is the persisted snapshot of one conversation thread.
type Session struct {
	ID            string      `json:"id"`
	Messages      []Message   `json:"messages"`
	LastRetrieved []Retrieved `json:"last_retrieved"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:        s.ID,
		Messages:  append([]Message(nil), s.Messages...),
		UpdatedAt: s.UpdatedAt,
	}
	if s.LastRetrieved != nil {
		out.LastRetrieved = make([]Retrieved, len(s.LastRetrieved))
		for i, r := range s.LastRetrieved {
			out.LastRetrieved[i] = Retrieved{Metadata: r.Metadata.Clone(), Snippet: r.Snippet}
		}
	}
	return out
}

// Reply is the outcome of one turn.
type Reply struct {
	SessionID string      `json:"session_id"`
	Answer    string      `json:"answer"`
	Messages  []Message   `json:"messages"`
	Retrieved []Retrieved `json:"retrieved"`
}
