package gate

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// registrationKey is the flag operators toggle live to open or close
// new-account registration.
const registrationKey = "allowRegistration"

type flagStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Gate reads the registration feature flag from Redis. The flag is
// re-read on every registration attempt, never cached, so operator
// toggles take effect immediately.
type Gate struct {
	store flagStore
	log   *logrus.Logger
}

// NewGate initializes the registration gate
func NewGate(store flagStore, log *logrus.Logger) *Gate {
	return &Gate{store: store, log: log}
}

// IsRegistrationOpen reports whether new registrations are allowed.
// A missing key, an unparsable value or an unreachable store all
// close the gate (fail closed, not open).
func (g *Gate) IsRegistrationOpen(ctx context.Context) bool {
	value, err := g.store.Get(ctx, registrationKey).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		g.log.Warnf("Failed to read registration flag: %v", err)
		return false
	}

	open, err := strconv.ParseBool(value)
	if err != nil {
		g.log.Warnf("Unparsable registration flag value %q", value)
		return false
	}
	return open
}
