package conversation

// Event is something a transport observed in a chat.
type Event interface {
	isEvent()
}

// ImageReceived carries an uploaded picture.
type ImageReceived struct {
	Data     []byte
	MimeType string
}

// TextCommand is free text, including slash commands.
type TextCommand struct {
	Text string
}

// ButtonPressed carries the token of an option from a previous message.
type ButtonPressed struct {
	Token string
}

// Timeout asks the machine to expire the session.
type Timeout struct{}

func (ImageReceived) isEvent() {}
func (TextCommand) isEvent()   {}
func (ButtonPressed) isEvent() {}
func (Timeout) isEvent()       {}

// Button tokens.
const (
	TokenReceiptYes  = "receipt_yes"
	TokenReceiptNo   = "receipt_no"
	TokenSplitEven   = "split_even"
	TokenSplitCustom = "split_custom"
	TokenRestart     = "restart"
)

// Commands understood in every state.
const (
	CommandStart   = "/start"
	CommandRestart = "/restart"
	CommandStatus  = "/status"
	CommandHelp    = "/help"
)
