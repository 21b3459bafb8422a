package domain

import (
	"sort"
	"strings"
	"time"
)

type Conversation struct {
	ID              string    `bson:"_id" json:"_id"`
	Participants    []string  `bson:"participants" json:"participants"`
	ParticipantKey  string    `bson:"participantKey" json:"-"`
	LastMessage     string    `bson:"lastMessage" json:"lastMessage"`
	LastMessageTime time.Time `bson:"lastMessageTime" json:"lastMessageTime"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
}

// HasParticipant reports whether identity takes part in the conversation.
func (c *Conversation) HasParticipant(identity string) bool {
	for _, p := range c.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// ParticipantKey returns the order-insensitive lookup key for a pair.
// It fails unless exactly two distinct non-empty identities are given.
func ParticipantKey(participants []string) (string, error) {
	if len(participants) != 2 {
		return "", ErrInvalidParticipants
	}
	a, b := strings.TrimSpace(participants[0]), strings.TrimSpace(participants[1])
	if a == "" || b == "" || a == b {
		return "", ErrInvalidParticipants
	}
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|"), nil
}

// NormalizeParticipants trims the identities and validates the pair,
// keeping the caller's order for storage.
func NormalizeParticipants(participants []string) ([]string, string, error) {
	key, err := ParticipantKey(participants)
	if err != nil {
		return nil, "", err
	}
	return []string{strings.TrimSpace(participants[0]), strings.TrimSpace(participants[1])}, key, nil
}
