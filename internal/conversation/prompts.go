package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/susu3304/splitbot/internal/extract"
	"github.com/susu3304/splitbot/internal/receipt"
)

const (
	msgWelcome           = "Hi! Send me a photo of your receipt and I'll split it and create a payment link for everyone."
	msgNeedImage         = "Please upload a photo of the receipt to get started."
	msgConfirmFirst      = "Please confirm the receipt above before sending another photo."
	msgConfirmPrompt     = "Is this information correct?"
	msgReupload          = "No problem. Please send a new photo of the receipt."
	msgChooseSplit       = "How would you like to split the bill?"
	msgCustomUnsupported = "Custom splits are not supported yet. Please choose an even split."
	msgBusy              = "I'm still working on your last request. Please wait a moment."
	msgStaleOption       = "That option is no longer available."
	msgExpired           = "This session expired after a period of inactivity. Send /start to begin again."
	msgPriceUnavailable  = "I couldn't get a current exchange rate, so no links were created. Please send the participant details again in a moment."
	msgLinksReady        = "Here are the payment links. Share each one with the matching person."
)

const msgHelp = "How it works:\n" +
	"1. Send a photo of the receipt.\n" +
	"2. Check the details I read and confirm them.\n" +
	"3. Choose how to split.\n" +
	"4. Send the number of people and their wallet addresses.\n" +
	"Commands: /start or /restart to begin again, /status to see where you are."

const msgParticipantInfo = "Send the number of people followed by their wallet addresses, separated by spaces.\n" +
	"For example: 3 0xAbc... 0xDef... 0x123...\n" +
	"Or send the number and one address to collect every share there."

func confirmOptions() []Option {
	return []Option{
		{Label: "Yes", Token: TokenReceiptYes},
		{Label: "No, re-upload", Token: TokenReceiptNo},
	}
}

func splitOptions() []Option {
	return []Option{
		{Label: "Even split", Token: TokenSplitEven},
		{Label: "Custom split", Token: TokenSplitCustom},
	}
}

func restartOption() []Option {
	return []Option{{Label: "Start over", Token: TokenRestart}}
}

// OptionTokens lists the button tokens offered in state st, in display
// order. Text-only transports use it to map numbered replies.
func OptionTokens(st State) []string {
	var opts []Option
	switch st {
	case AwaitingConfirmation:
		opts = confirmOptions()
	case AwaitingSplitMethod:
		opts = splitOptions()
	case Expired:
		opts = restartOption()
	}
	return Outbound{Options: opts}.Tokens()
}

// prompt is what the user is asked at the session's current step. It must
// be called with s.mu held.
func (s *Session) prompt() Outbound {
	switch s.state {
	case AwaitingConfirmation:
		return Outbound{SessionID: s.id, Content: receipt.Summary(*s.pending) + "\n\n" + msgConfirmPrompt, Options: confirmOptions()}
	case AwaitingSplitMethod:
		return Outbound{SessionID: s.id, Content: msgChooseSplit, Options: splitOptions()}
	case AwaitingParticipantInfo:
		return Outbound{SessionID: s.id, Content: msgParticipantInfo}
	case Idle:
		return Outbound{SessionID: s.id, Content: msgWelcome}
	default:
		return Outbound{SessionID: s.id, Content: msgNeedImage}
	}
}

func statusText(s *Session) string {
	var step string
	switch s.state {
	case Idle, AwaitingImage:
		step = "waiting for a receipt photo"
	case AwaitingConfirmation:
		step = "waiting for you to confirm the receipt"
	case AwaitingSplitMethod:
		step = "waiting for you to choose a split method"
	case AwaitingParticipantInfo:
		step = "waiting for participant details"
	default:
		step = string(s.state)
	}
	out := "Current step: " + step + "."
	if s.busy {
		out += "\nI'm still processing your last message."
	}
	if s.pending != nil {
		out += fmt.Sprintf("\nReceipt: %s %s %s", orNA(s.pending.Merchant), s.pending.Total.StringFixed(s.pending.Scale()), s.pending.Currency)
	}
	return out
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

var fieldNames = map[string]string{
	"total":    "the total",
	"currency": "the currency",
	"tax":      "the tax",
	"merchant": "the store name or any items",
}

// extractionFailureText turns an extraction or validation error into a
// re-prompt.
func extractionFailureText(err error) string {
	var verr *receipt.ValidationError
	switch {
	case errors.Is(err, extract.ErrUnsupportedMediaType):
		return "That file type isn't supported. Please send a JPEG, PNG, WEBP or GIF photo of the receipt."
	case errors.Is(err, extract.ErrEmptyImage):
		return "The image I received was empty. Please send the photo again."
	case errors.As(err, &verr):
		return "I couldn't read " + describeFields(verr.Fields()) + " on that receipt. Please send a clearer photo."
	}

	kind, _ := extract.KindOf(err)
	switch kind {
	case extract.KindNotAReceipt:
		return "That doesn't look like a receipt. Please send a photo of a receipt."
	case extract.KindMalformedResponse:
		return "I couldn't make sense of that receipt. Please send a clearer photo."
	case extract.KindTransient:
		return "The receipt reader is busy right now. Please try again in a moment."
	default:
		return "The receipt reader isn't available right now. Please try again later."
	}
}

func describeFields(fields []string) string {
	var names []string
	seen := map[string]bool{}
	for _, f := range fields {
		name, ok := fieldNames[f]
		if !ok {
			name = "the item list"
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return "the details"
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
	}
}
