package queueengine

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-queueworker/pkg/types"
)

// messageIDNamespace seeds the name-based UUIDs derived for messages without an ID.
var messageIDNamespace = uuid.MustParse("5b0f3c1e-8d4a-4f63-9a57-2f7e4c1d9b80")

// Normalize populates the engine-owned metadata of msg without clobbering
// values already present: Timestamp falls back to the delivery time, ID is
// derived from the delivery ID and the timestamp, and RetryCount is lifted to
// the transport-reported attempt count when the transport redelivered an
// unmodified body. Applying it twice is a no-op.
func Normalize(msg *types.Message, d Delivery) {
	normalize(msg, d, time.Now())
}

func normalize(msg *types.Message, d Delivery, now time.Time) {
	if msg.Timestamp == 0 {
		ts := d.Timestamp
		if ts.IsZero() {
			ts = now
		}
		msg.Timestamp = ts.UnixMilli()
	}
	if msg.ID == "" {
		msg.ID = DeriveMessageID(d.ID, msg.Timestamp)
	}
	if msg.RetryCount < 0 {
		msg.RetryCount = 0
	}
	if prior := d.Attempts - 1; prior > msg.RetryCount {
		msg.RetryCount = prior
	}
}

// DeriveMessageID returns the deterministic ID for a transport message ID and
// creation timestamp.
func DeriveMessageID(deliveryID string, timestampMs int64) string {
	name := deliveryID + ":" + strconv.FormatInt(timestampMs, 10)
	return uuid.NewSHA1(messageIDNamespace, []byte(name)).String()
}

// BeginAttempt increments RetryCount for the attempt about to be made and
// returns the attempt number, starting at 1.
func BeginAttempt(msg *types.Message) int {
	msg.RetryCount++
	return msg.RetryCount
}
