package connection

import (
	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/chat"
)

// normalize converts a raw envelope into an Event. Envelopes missing the
// fields needed to route them are logged and dropped; payload contents are
// otherwise passed through untouched.
func normalize(env channel.Envelope, logger *zap.Logger) (Event, bool) {
	drop := func(err error) (Event, bool) {
		logger.Warn("dropping malformed envelope", zap.String("type", env.Type), zap.Error(err))
		return Event{}, false
	}

	switch env.Type {
	case channel.TypeNewMessage:
		var m chat.Message
		if err := env.Decode(&m); err != nil {
			return drop(err)
		}
		if !m.Valid() {
			return drop(errMissing("id, case_id or created_at"))
		}
		return Event{Kind: KindMessage, CaseID: m.CaseID, Message: m}, true

	case channel.TypeTyping:
		var p channel.TypingPayload
		if err := env.Decode(&p); err != nil {
			return drop(err)
		}
		if p.CaseID == "" || p.UserID == "" {
			return drop(errMissing("case_id or user_id"))
		}
		return Event{Kind: KindTyping, CaseID: p.CaseID, UserID: p.UserID, IsTyping: p.IsTyping}, true

	case channel.TypeReadReceipt:
		var p channel.ReadReceiptPayload
		if err := env.Decode(&p); err != nil {
			return drop(err)
		}
		if len(p.MessageIDs) == 0 {
			return drop(errMissing("message_ids"))
		}
		return Event{Kind: KindReadReceipt, MessageIDs: p.MessageIDs, ReadAt: p.ReadAt}, true

	case channel.TypeOfflineMessages:
		var p channel.OfflineMessagesPayload
		if err := env.Decode(&p); err != nil {
			return drop(err)
		}
		valid := p.Messages[:0]
		for _, m := range p.Messages {
			if m.Valid() {
				valid = append(valid, m)
			}
		}
		if dropped := len(p.Messages) - len(valid); dropped > 0 {
			logger.Warn("dropping malformed offline messages", zap.Int("count", dropped))
		}
		if len(valid) == 0 {
			return Event{}, false
		}
		return Event{Kind: KindOfflineBatch, Messages: valid}, true

	case channel.TypeError:
		var p channel.ErrorPayload
		if len(env.Payload) > 0 {
			if err := env.Decode(&p); err != nil {
				return drop(err)
			}
		}
		if p.Message == "" {
			p.Message = "server reported an error"
		}
		return Event{Kind: KindError, Err: &TransportError{Op: "server", Reason: p.Message}}, true

	case channel.TypePong:
		return Event{}, false

	default:
		logger.Debug("ignoring unknown envelope", zap.String("type", env.Type))
		return Event{}, false
	}
}

type errMissing string

func (e errMissing) Error() string { return "missing " + string(e) }
