package domain

import "time"

// Message is one immutable entry in a conversation log.
// SenderName and SenderPhoto are snapshotted at send time.
type Message struct {
	ID             string    `bson:"_id" json:"_id"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	Sender         string    `bson:"sender" json:"sender"`
	Receiver       string    `bson:"receiver" json:"receiver"`
	Message        string    `bson:"message" json:"message"`
	SenderName     string    `bson:"senderName" json:"senderName"`
	SenderPhoto    string    `bson:"senderPhoto" json:"senderPhoto"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Read           bool      `bson:"read" json:"read"`
}
