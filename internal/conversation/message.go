package conversation

// Outbound is a message for the chat behind SessionID. Transports deliver
// a batch in order.
type Outbound struct {
	SessionID string   `json:"session_id"`
	Content   string   `json:"content"`
	Options   []Option `json:"options,omitempty"`
}

// Option is an inline control. Exactly one of Token and URL is set: a
// Token is sent back as ButtonPressed, a URL is opened by the client.
type Option struct {
	Label string `json:"label"`
	Token string `json:"token,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Tokens returns the button tokens of m in order, skipping links.
func (m Outbound) Tokens() []string {
	var out []string
	for _, o := range m.Options {
		if o.Token != "" {
			out = append(out, o.Token)
		}
	}
	return out
}
