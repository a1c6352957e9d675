package chat

import (
	"time"

	"hoodhub.chat/hub/internal/composer"
	"hoodhub.chat/hub/internal/ledger"
	"hoodhub.chat/hub/internal/names"
	"hoodhub.chat/hub/internal/syncer"
)

// Labels shown by the UI.
const (
	EmptyText   = "No messages yet"
	SendLabel   = "Send"
	SendingText = "Sending..."
)

// MessageView is one rendered message.
type MessageView struct {
	Position  int    `json:"position"`
	Author    string `json:"author"`
	Label     string `json:"label"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Text      string `json:"text"`
	Time      string `json:"time,omitempty"`
	Mine      bool   `json:"mine"`
}

// View is everything the UI renders in one frame.
type View struct {
	Connected    bool            `json:"connected"`
	Account      string          `json:"account,omitempty"`
	AccountLabel string          `json:"accountLabel,omitempty"`
	Messages     []MessageView   `json:"messages"`
	EmptyText    string          `json:"emptyText,omitempty"`
	Composer     composer.Status `json:"composer"`
	SendLabel    string          `json:"sendLabel"`
	Typing       []string        `json:"typing"`
	LastError    string          `json:"lastError,omitempty"`
	Version      uint64          `json:"version"`
}

// Labeler names an address for display.
type Labeler func(ledger.Address) string

// CachedLabeler labels from resolved cache entries only, falling back to
// the short form of addr as given.
func CachedLabeler(r *names.Resolver) Labeler {
	return func(addr ledger.Address) string {
		if r != nil {
			if e, ok := r.Cached(addr); ok && e.DisplayName != "" {
				return e.DisplayName
			}
		}
		return names.ShortAddress(addr)
	}
}

// BuildView renders a snapshot for account. account is empty when no
// identity is connected.
func BuildView(snap *syncer.Snapshot, account ledger.Address, comp composer.Status, typing []string, label Labeler) View {
	if label == nil {
		label = func(a ledger.Address) string { return names.ShortAddress(a) }
	}

	v := View{
		Connected: account != "",
		Composer:  comp,
		SendLabel: SendLabel,
		Messages:  []MessageView{},
		Typing:    []string{},
	}
	if v.Connected {
		v.Account = string(account)
		v.AccountLabel = label(account)
	}
	if comp.State.Busy() {
		v.SendLabel = SendingText
	}

	if snap != nil {
		v.Version = snap.Version
		for _, m := range snap.Messages {
			mv := MessageView{
				Position:  m.Position,
				Author:    string(m.Author),
				Label:     m.DisplayName,
				AvatarURL: m.AvatarURL,
				Text:      m.Text,
				Time:      FormatTime(m.Timestamp),
				Mine:      v.Connected && m.Author.Equal(account),
			}
			if mv.Label == "" {
				mv.Label = names.ShortAddress(m.Author)
			}
			v.Messages = append(v.Messages, mv)
		}
	}
	if len(v.Messages) == 0 {
		v.EmptyText = EmptyText
	}

	for _, who := range typing {
		v.Typing = append(v.Typing, label(ledger.Address(who)))
	}
	return v
}

// FormatTime renders a record timestamp, or "" when the ledger did not
// record one.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("Jan 2 15:04")
}
