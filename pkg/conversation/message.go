package conversation

// Role identifies a message variant.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// Format tags how message content should be interpreted.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatBinary Format = "binary"
)

// BinaryData is an attachment carried alongside message content.
type BinaryData struct {
	MimeType string
	Data     []byte
}

// Metadata is shared by every message variant.
type Metadata struct {
	TurnID     string
	Sensitive  bool
	Anonymized bool
	Format     Format
	Binary     []BinaryData
}

// Message is the closed set of transcript entries: UserMessage, SystemMessage,
// AssistantMessage and DeveloperMessage. Messages are values; every With*
// method returns a modified copy.
type Message interface {
	Role() Role
	Text() string
	Metadata() Metadata
	WithText(content string) Message
	WithTurn(turnID string) Message

	sealed()
}

// UserMessage is input from the end user.
type UserMessage struct {
	Content string
	Meta    Metadata
}

// SystemMessage carries instructions for the model.
type SystemMessage struct {
	Content string
	Meta    Metadata
}

// AssistantMessage is a model answer.
type AssistantMessage struct {
	Content string
	Meta    Metadata
}

// DeveloperMessage carries operator instructions.
type DeveloperMessage struct {
	Content string
	Meta    Metadata
}

func User(content string) UserMessage           { return UserMessage{Content: content, Meta: textMeta()} }
func System(content string) SystemMessage       { return SystemMessage{Content: content, Meta: textMeta()} }
func Assistant(content string) AssistantMessage { return AssistantMessage{Content: content, Meta: textMeta()} }
func Developer(content string) DeveloperMessage { return DeveloperMessage{Content: content, Meta: textMeta()} }

func textMeta() Metadata { return Metadata{Format: FormatText} }

func (m UserMessage) Role() Role         { return RoleUser }
func (m UserMessage) Text() string       { return m.Content }
func (m UserMessage) Metadata() Metadata { return m.Meta.clone() }
func (m UserMessage) WithText(content string) Message {
	m.Content = content
	m.Meta = m.Meta.clone()
	return m
}
func (m UserMessage) WithTurn(turnID string) Message {
	m.Meta = m.Meta.clone()
	m.Meta.TurnID = turnID
	return m
}
func (UserMessage) sealed() {}

func (m SystemMessage) Role() Role         { return RoleSystem }
func (m SystemMessage) Text() string       { return m.Content }
func (m SystemMessage) Metadata() Metadata { return m.Meta.clone() }
func (m SystemMessage) WithText(content string) Message {
	m.Content = content
	m.Meta = m.Meta.clone()
	return m
}
func (m SystemMessage) WithTurn(turnID string) Message {
	m.Meta = m.Meta.clone()
	m.Meta.TurnID = turnID
	return m
}
func (SystemMessage) sealed() {}

func (m AssistantMessage) Role() Role         { return RoleAssistant }
func (m AssistantMessage) Text() string       { return m.Content }
func (m AssistantMessage) Metadata() Metadata { return m.Meta.clone() }
func (m AssistantMessage) WithText(content string) Message {
	m.Content = content
	m.Meta = m.Meta.clone()
	return m
}
func (m AssistantMessage) WithTurn(turnID string) Message {
	m.Meta = m.Meta.clone()
	m.Meta.TurnID = turnID
	return m
}

// WithSensitive marks the answer as derived from sensitive tool output.
func (m AssistantMessage) WithSensitive(sensitive bool) AssistantMessage {
	m.Meta = m.Meta.clone()
	m.Meta.Sensitive = sensitive
	return m
}
func (AssistantMessage) sealed() {}

func (m DeveloperMessage) Role() Role         { return RoleDeveloper }
func (m DeveloperMessage) Text() string       { return m.Content }
func (m DeveloperMessage) Metadata() Metadata { return m.Meta.clone() }
func (m DeveloperMessage) WithText(content string) Message {
	m.Content = content
	m.Meta = m.Meta.clone()
	return m
}
func (m DeveloperMessage) WithTurn(turnID string) Message {
	m.Meta = m.Meta.clone()
	m.Meta.TurnID = turnID
	return m
}
func (DeveloperMessage) sealed() {}

func (md Metadata) clone() Metadata {
	if md.Binary != nil {
		bins := make([]BinaryData, len(md.Binary))
		for i, b := range md.Binary {
			bins[i] = BinaryData{MimeType: b.MimeType, Data: append([]byte(nil), b.Data...)}
		}
		md.Binary = bins
	}
	return md
}
