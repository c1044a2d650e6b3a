package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const EventLogCollection = "event_log"

// EventDocument mirrors an emitted engine event for the dump/debug surface.
type EventDocument struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	EventID    string             `bson:"event_id"`
	Type       string             `bson:"type"`
	Component  string             `bson:"component"`
	Attributes map[string]string  `bson:"attributes,omitempty"`
	EmittedAt  time.Time          `bson:"emitted_at"`
}
