package security

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
)

// htmlEscaper maps the characters that can break out of HTML text or
// attribute context.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Sanitize escapes s for safe insertion into HTML.
func Sanitize(s string) string {
	return htmlEscaper.Replace(s)
}

// InputValidator handles input validation for chat frames and room forms
type InputValidator struct {
	mu     sync.RWMutex
	config config.SecurityConfig
}

// NewInputValidator creates a new input validator
func NewInputValidator(cfg config.SecurityConfig) *InputValidator {
	return &InputValidator{config: cfg}
}

// SetConfig replaces the limits used by later validations.
func (v *InputValidator) SetConfig(cfg config.SecurityConfig) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.config = cfg
}

func (v *InputValidator) limits() config.SecurityConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.config
}

// ValidateMessageText checks a chat message body. The text is returned
// unchanged; escaping happens once at the broker.
func (v *InputValidator) ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return chaterr.Invalid("text", "message cannot be empty")
	}
	if limit := v.limits().MaxMessageLength; limit > 0 && utf8.RuneCountInString(text) > limit {
		return chaterr.Invalid("text", fmt.Sprintf("message too long (max %d characters)", limit))
	}
	return nil
}

// ValidateRoomName trims and checks a room name
func (v *InputValidator) ValidateRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", chaterr.Invalid("name", "room name cannot be empty")
	}
	if limit := v.limits().MaxRoomNameLength; limit > 0 && utf8.RuneCountInString(name) > limit {
		return "", chaterr.Invalid("name", fmt.Sprintf("room name too long (max %d characters)", limit))
	}
	return name, nil
}

// ValidateRoomID checks that an inbound frame names a room
func (v *InputValidator) ValidateRoomID(roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return chaterr.Invalid("roomId", "room id cannot be empty")
	}
	return nil
}
