package chat

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58/base58"

	"matchday-chat/go-client/pkg/models"
)

// serverIDPrefix makes message IDs derived from a server-assigned ID
// deterministic: redelivery of the same server message always maps to the
// same local ID, which is what the duplicate check keys on.
const serverIDPrefix = "srv_"

var ErrMalformedPayload = errors.New("chat: malformed bus payload")

// InboundPayload is the bus MESSAGE body shape as the backend defines it.
// It is parsed and validated once here; nothing downstream touches raw JSON.
type InboundPayload struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	SentAt         string `json:"sentAt"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	SenderAvatar   string `json:"senderAvatar"`
	Kind           string `json:"kind"`
}

// ParseInbound decodes and validates one MESSAGE body. A payload carrying
// neither content nor a sender is rejected rather than rendered empty.
func ParseInbound(body []byte) (InboundPayload, error) {
	var payload InboundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return InboundPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	payload.ID = strings.TrimSpace(payload.ID)
	payload.SenderID = strings.TrimSpace(payload.SenderID)
	if payload.Content == "" && payload.SenderID == "" && payload.ID == "" {
		return InboundPayload{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	return payload, nil
}

// Message maps the payload to the application message shape. now is the
// receive instant used when the payload carries no usable timestamp.
func (p InboundPayload) Message(now time.Time) models.Message {
	id := SyntheticID(now)
	if p.ID != "" {
		id = serverIDPrefix + p.ID
	}
	createdAt := now
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(p.SentAt)); err == nil {
		createdAt = ts
	}
	kind := models.KindText
	if strings.EqualFold(strings.TrimSpace(p.Kind), string(models.KindSystem)) {
		kind = models.KindSystem
	}
	return models.Message{
		ID:        id,
		Text:      p.Content,
		CreatedAt: createdAt,
		Kind:      kind,
		Sender: models.Sender{
			ID:          p.SenderID,
			DisplayName: strings.TrimSpace(p.SenderUsername),
			AvatarRef:   strings.TrimSpace(p.SenderAvatar),
		},
	}
}

// SyntheticID builds a local-only message ID for payloads without a server
// ID and for client-constructed message kinds. Collisions are possible
// only under pathological redelivery without server IDs, which is accepted.
func SyntheticID(now time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("loc_%d", now.UnixNano())
	}
	return fmt.Sprintf("loc_%d_%s", now.UnixNano(), base58.Encode(buf))
}

// NewSystemMessage builds a client-local system notice.
func NewSystemMessage(text string, now time.Time) models.Message {
	return models.Message{
		ID:        SyntheticID(now),
		Text:      text,
		CreatedAt: now,
		Kind:      models.KindSystem,
	}
}

// NewSharedMatchCard builds the client-local shared-match-card message.
// The server never confirms these; they exist only in the local timeline.
func NewSharedMatchCard(card models.MatchCard, sender models.Sender, now time.Time) models.Message {
	return models.Message{
		ID:        SyntheticID(now),
		CreatedAt: now,
		Kind:      models.KindSharedMatchCard,
		Sender:    sender,
		MatchCard: &card,
	}
}
