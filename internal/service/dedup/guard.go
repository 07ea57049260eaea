// internal/service/dedup/guard.go

package dedup

import (
	"time"

	"spark/internal/domain/spark"
)

// Config contains the dedup windows
type Config struct {
	// Any spark inside this window suppresses creation regardless of status
	HardWindow time.Duration

	// Soft cooldowns by the type of the spark being created
	ProximityCooldown time.Duration
	ManualCooldown    time.Duration
	InterestCooldown  time.Duration
}

// DefaultConfig returns the default dedup windows
func DefaultConfig() Config {
	return Config{
		HardWindow:        60 * time.Second,
		ProximityCooldown: 5 * time.Minute,
		ManualCooldown:    72 * time.Hour,
		InterestCooldown:  72 * time.Hour,
	}
}

// Guard decides whether a new spark may be created for a pair
type Guard struct {
	config Config
}

// NewGuard creates a new dedup guard
func NewGuard(config Config) *Guard {
	return &Guard{config: config}
}

// Cooldown returns the soft window that applies when creating a spark of type t
func (g *Guard) Cooldown(t spark.Type) time.Duration {
	switch t {
	case spark.TypeManual:
		return g.config.ManualCooldown
	case spark.TypeInterest:
		return g.config.InterestCooldown
	default:
		return g.config.ProximityCooldown
	}
}

// Lookback returns how far back the store must look for Check to be exact
func (g *Guard) Lookback(t spark.Type) time.Duration {
	if soft := g.Cooldown(t); soft > g.config.HardWindow {
		return soft
	}
	return g.config.HardWindow
}

// Check returns a Conflict error when recent sparks for the pair suppress
// creating a new spark of type t at now. Any spark inside the hard window
// suppresses; inside the cooldown only live sparks do, so a newer expired or
// rejected spark never hides an older live one.
func (g *Guard) Check(recent []spark.Spark, t spark.Type, now time.Time) error {
	cooldown := g.Cooldown(t)

	for i := range recent {
		s := &recent[i]
		age := now.Sub(s.CreatedAt)

		if age < g.config.HardWindow {
			return spark.Conflict("spark %s between the pair was created %s ago", s.ID, age.Round(time.Second))
		}
		if s.IsLive() && age < cooldown {
			return spark.Conflict("a %s spark between the pair is still %s", s.Type, s.Status)
		}
	}

	return nil
}

// Checker binds Check to a type and time for use with Store.CreateGuarded
func (g *Guard) Checker(t spark.Type, now time.Time) func([]spark.Spark) error {
	return func(recent []spark.Spark) error {
		return g.Check(recent, t, now)
	}
}
