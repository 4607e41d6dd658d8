package dialog

// Role определяет автора реплики в диалоге.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn представляет одну реплику диалога.
// Порядок реплик значим: история передаётся модели как есть.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
