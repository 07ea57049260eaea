// internal/domain/spark/model.go

package spark

import (
	"time"

	"spark/internal/domain/geo"
)

// Type identifies how a spark was detected
type Type string

const (
	TypeProximity Type = "proximity"
	TypeInterest  Type = "interest"
	TypeLocation  Type = "location"
	TypeActivity  Type = "activity"
	TypeManual    Type = "manual"
)

// Valid reports whether t is a known spark type
func (t Type) Valid() bool {
	switch t {
	case TypeProximity, TypeInterest, TypeLocation, TypeActivity, TypeManual:
		return true
	}
	return false
}

// Status represents the lifecycle state of a spark
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted" // never assigned directly
	StatusDeclined Status = "declined"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
	StatusMatched  Status = "matched"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusRejected, StatusExpired, StatusMatched:
		return true
	}
	return false
}

// Spark is a proposed connection between two users
type Spark struct {
	ID              string                 `json:"id"`
	User1ID         string                 `json:"user1Id"`
	User2ID         string                 `json:"user2Id"`
	Type            Type                   `json:"type"`
	Status          Status                 `json:"status"`
	Latitude        float64                `json:"latitude"`
	Longitude       float64                `json:"longitude"`
	Distance        *float64               `json:"distance"`
	Strength        int                    `json:"strength"`
	Metadata        map[string]interface{} `json:"metadata"`
	User1Accepted   bool                   `json:"user1Accepted"`
	User2Accepted   bool                   `json:"user2Accepted"`
	User1ResponseAt *time.Time             `json:"user1ResponseAt"`
	User2ResponseAt *time.Time             `json:"user2ResponseAt"`
	ExpiresAt       *time.Time             `json:"expiresAt"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// HasUser reports whether userID participates in the spark
func (s *Spark) HasUser(userID string) bool {
	return s.User1ID == userID || s.User2ID == userID
}

// OtherUser returns the participant that is not userID
func (s *Spark) OtherUser(userID string) string {
	if s.User1ID == userID {
		return s.User2ID
	}
	return s.User1ID
}

// IsLive reports whether the spark still counts against the cooldown
func (s *Spark) IsLive() bool {
	return s.Status != StatusExpired && s.Status != StatusRejected
}

// IsTerminal reports whether no further transition is allowed
func (s *Spark) IsTerminal() bool {
	switch s.Status {
	case StatusMatched, StatusRejected, StatusExpired, StatusDeclined:
		return true
	}
	return false
}

// ExpiredAt reports whether a pending spark has passed its expiry at now
func (s *Spark) ExpiredAt(now time.Time) bool {
	return s.Status == StatusPending && s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

// ClampStrength bounds a strength score to [0,100]
func ClampStrength(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// PairKey returns a stable key for an unordered pair of users
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// OrderedPair returns the two user IDs in lexical order
func OrderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// ChatRoom is provisioned when a spark is matched
type ChatRoom struct {
	ID           string    `json:"id"`
	Participant1 string    `json:"participant1"`
	Participant2 string    `json:"participant2"`
	SparkID      string    `json:"sparkId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// User is the subset of a user profile needed for matching
type User struct {
	ID                string        `json:"id"`
	Username          string        `json:"username"`
	Interests         []string      `json:"interests"`
	LastKnownLocation *geo.Location `json:"lastKnownLocation,omitempty"`
}

// LocationSample is a single location update from a user
type LocationSample struct {
	UserID   string       `json:"userId"`
	Location geo.Location `json:"location"`
}

// NearbyUser is a candidate returned by a radius query
type NearbyUser struct {
	UserID   string    `json:"userId"`
	Distance float64   `json:"distance"`
	LastSeen time.Time `json:"lastSeen"`
}

// NearbyQuery describes a radius query around a center point
type NearbyQuery struct {
	Center       geo.Location
	RadiusMeters float64
	Exclude      map[string]struct{}
	Since        time.Time
}

// ListFilter narrows the sparks returned for a user
type ListFilter struct {
	Status Status
	Type   Type
	Limit  int
}
