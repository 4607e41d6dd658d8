package telegram

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64      `json:"message_id"`
	Text      string     `json:"text"`
	Chat      Chat       `json:"chat"`
	From      *User      `json:"from"`
	Voice     *Voice     `json:"voice,omitempty"`
	VideoNote *VideoNote `json:"video_note,omitempty"`
}

// IsCommand сообщает, начинается ли текст сообщения с команды бота.
func (m *Message) IsCommand() bool {
	return len(m.Text) > 1 && m.Text[0] == '/'
}

// AudioFileID возвращает file_id голосового сообщения или видео-кружка.
func (m *Message) AudioFileID() (string, bool) {
	switch {
	case m.Voice != nil:
		return m.Voice.FileID, true
	case m.VideoNote != nil:
		return m.VideoNote.FileID, true
	default:
		return "", false
	}
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Voice голосовое сообщение.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

// VideoNote видео-кружок.
type VideoNote struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

// File описывает файл, подготовленный Telegram к скачиванию.
type File struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// apiResponse общий конверт ответа Bot API.
type apiResponse[T any] struct {
	Ok          bool                `json:"ok"`
	Result      T                   `json:"result"`
	ErrorCode   int                 `json:"error_code"`
	Description string              `json:"description"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type editMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type getFileRequest struct {
	FileID string `json:"file_id"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}
