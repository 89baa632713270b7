package chat

// Message is an inbound text message from an operator.
type Message struct {
	OperatorID  string // chat ID in string form
	DisplayName string
	Text        string
}

// Callback is an inline keyboard tap.
type Callback struct {
	ID          string // callback query ID, for acknowledgement
	OperatorID  string
	DisplayName string
	Data        string // the Button.Data of the tapped choice
}

// Update is one inbound event: exactly one of Message and Callback is set.
type Update struct {
	Message  *Message
	Callback *Callback
}

// Button is one inline keyboard choice.
type Button struct {
	Label string
	Data  string
}

// Row builds a single keyboard row from buttons.
func Row(buttons ...Button) []Button {
	return buttons
}
