package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Error records err under "error". A nil error yields an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// AccountID records the account identifier under "account_id".
func AccountID(id fmt.Stringer) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.String("account_id", id.String())
}

// Tier records a tier name under the given key, e.g. "tier" or "old_tier".
func Tier[T ~string](key string, name T) slog.Attr {
	return slog.String(key, string(name))
}

// Status records a subscription status under the given key.
func Status[T ~string](key string, status T) slog.Attr {
	return slog.String(key, string(status))
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType[T ~string](eventType T) slog.Attr {
	return slog.String("event_type", string(eventType))
}

func SubscriptionRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_ref", ref)
}

func Outcome[T ~string](outcome T) slog.Attr {
	return slog.String("outcome", string(outcome))
}

func Quota[T ~string](name T) slog.Attr {
	return slog.String("quota", string(name))
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}
