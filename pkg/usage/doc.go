// Package usage meters per-account quotas defined by the tier catalog.
//
// Limiter.Consume resolves the account's effective tier, looks up the quota
// ceiling and atomically increments the counter for the current UTC day or
// month. An increment that would cross the ceiling is rejected and leaves the
// counter untouched, so N concurrent callers can never push usage past the
// limit.
//
// Two stores are provided. MemoryStore uses a compare-and-swap loop per key
// and suits a single replica or tests. RedisStore runs the check and the
// increment inside one Lua script so the guarantee holds across replicas.
package usage
