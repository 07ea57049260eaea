// internal/domain/spark/events.go

package spark

// Event topics published on the event bus
const (
	EventDetected          = "spark.detected"
	EventSent              = "spark.sent"
	EventMatched           = "spark.matched"
	EventPartiallyAccepted = "spark.partiallyAccepted"
	EventStatusChanged     = "spark.statusChanged"
)

// MatchedEvent is the payload of spark.matched
type MatchedEvent struct {
	SparkID    string `json:"sparkId"`
	User1ID    string `json:"user1Id"`
	User2ID    string `json:"user2Id"`
	ChatRoomID string `json:"chatRoomId"`
}

// PartiallyAcceptedEvent is the payload of spark.partiallyAccepted
type PartiallyAcceptedEvent struct {
	SparkID    string `json:"sparkId"`
	AcceptedBy string `json:"acceptedBy"`
	WaitingFor string `json:"waitingFor"`
}

// Participants returns the user IDs an event payload concerns, for fan-out to
// per-user subscribers. Unknown payloads yield nil.
func Participants(payload interface{}) []string {
	switch p := payload.(type) {
	case Spark:
		return []string{p.User1ID, p.User2ID}
	case *Spark:
		return []string{p.User1ID, p.User2ID}
	case MatchedEvent:
		return []string{p.User1ID, p.User2ID}
	case PartiallyAcceptedEvent:
		return []string{p.AcceptedBy, p.WaitingFor}
	}
	return nil
}
