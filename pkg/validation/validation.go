package validation

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// MaxMessageTypeLength bounds the type field of an inbound envelope.
const MaxMessageTypeLength = 64

var messageTypeRegex = regexp.MustCompile(`^[a-z][a-z_-]*$`)

// ValidateMessageType checks the envelope type field before dispatch.
func ValidateMessageType(messageType string) error {
	if messageType == "" {
		return fmt.Errorf("message type is required")
	}
	if len(messageType) > MaxMessageTypeLength {
		return fmt.Errorf("message type must be at most %d characters", MaxMessageTypeLength)
	}
	if !messageTypeRegex.MatchString(messageType) {
		return fmt.Errorf("message type %q contains invalid characters", messageType)
	}
	return nil
}

// ValidateConnectionID checks that id has the shape of a server-issued id.
func ValidateConnectionID(id string) error {
	if id == "" {
		return fmt.Errorf("connection id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid connection id %q: %w", id, err)
	}
	return nil
}

// ValidatePort checks a TCP port taken from the environment.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
