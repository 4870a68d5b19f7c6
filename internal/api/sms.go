package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/media"
)

const (
	smsSessionPrefix  = "sms:"
	msgSMSMediaFailed = "I couldn't download that picture. Please send it again."
	msgSMSMediaLarge  = "That picture is too large. Please send a smaller photo of the receipt."
)

type smsResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// handleSMS answers an inbound SMS/MMS webhook. Replies travel back in the
// XML response body, so every outbound message for the sender is folded
// into one Message element.
func (a *API) handleSMS(w http.ResponseWriter, r *http.Request) {
	if len(a.smsToken) > 0 && !validSignature(r, a.smsToken) {
		a.log.Warn("rejected unsigned sms webhook", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	id := smsSessionPrefix + from

	ctx, cancel := context.WithTimeout(r.Context(), a.smsTimeout)
	defer cancel()

	ev, err := a.smsEvent(ctx, id, r.PostForm)
	if err != nil {
		a.log.Warn("failed to fetch sms media", zap.String("session", id), zap.Error(err))
		text := msgSMSMediaFailed
		if errors.Is(err, media.ErrTooLarge) {
			text = msgSMSMediaLarge
		}
		writeSMS(w, []string{text})
		return
	}

	out, err := a.conv.Deliver(ctx, id, ev)
	switch {
	case errors.Is(err, conversation.ErrSessionExpired):
		out = []conversation.Outbound{conversation.ExpiredNotice(id)}
	case err != nil:
		a.log.Warn("sms event not handled", zap.String("session", id), zap.Error(err))
		out = nil
	}

	var texts []string
	for _, msg := range out {
		if msg.SessionID == id {
			texts = append(texts, renderSMS(msg))
		}
	}
	writeSMS(w, texts)
}

// smsEvent picks the first downloadable media item, falling back to the
// message text. A bare number selects the matching option of the current
// prompt.
func (a *API) smsEvent(ctx context.Context, id string, form url.Values) (conversation.Event, error) {
	count, _ := strconv.Atoi(form.Get("MediaCount"))
	var lastErr error
	for i := 0; i < count; i++ {
		mediaURL := strings.TrimSpace(form.Get(fmt.Sprintf("Media%d", i)))
		if mediaURL == "" {
			continue
		}
		data, mimeType, err := a.media.Fetch(ctx, mediaURL, "")
		if err != nil {
			lastErr = err
			continue
		}
		return conversation.ImageReceived{Data: data, MimeType: mimeType}, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}

	text := strings.TrimSpace(form.Get("Text"))
	if n, err := strconv.Atoi(text); err == nil {
		if snap, ok := a.conv.Current(ctx, id); ok {
			tokens := conversation.OptionTokens(snap.State)
			if n >= 1 && n <= len(tokens) {
				return conversation.ButtonPressed{Token: tokens[n-1]}, nil
			}
		}
	}
	return conversation.TextCommand{Text: text}, nil
}

// validSignature checks X-Plivo-Signature-V2: base64 HMAC-SHA256 of the
// called URL followed by the nonce.
func validSignature(r *http.Request, token []byte) bool {
	sig := r.Header.Get("X-Plivo-Signature-V2")
	nonce := r.Header.Get("X-Plivo-Signature-V2-Nonce")
	if sig == "" || nonce == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, token)
	mac.Write([]byte(webhookURL(r) + nonce))
	return hmac.Equal(got, mac.Sum(nil))
}

// webhookURL rebuilds the URL the provider called, honouring a TLS proxy in
// front of the server.
func webhookURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// renderSMS writes options as a numbered list and links as plain URLs.
func renderSMS(msg conversation.Outbound) string {
	var b strings.Builder
	b.WriteString(msg.Content)
	n := 0
	for _, o := range msg.Options {
		b.WriteString("\n")
		if o.URL != "" {
			b.WriteString(o.Label + ": " + o.URL)
			continue
		}
		n++
		fmt.Fprintf(&b, "%d. %s", n, o.Label)
	}
	return b.String()
}

func writeSMS(w http.ResponseWriter, texts []string) {
	resp := smsResponse{Message: strings.Join(texts, "\n\n")}
	body, err := xml.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(body)
}
