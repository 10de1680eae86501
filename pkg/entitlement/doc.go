// Package entitlement derives what an account may do right now from its
// stored tier and subscription status.
//
// Evaluate is a pure function over (catalog, state, now, policy):
//
//   - Active with no period end, or a period end in the future, grants the
//     stored tier.
//   - PastDue grants the stored tier until the grace period, anchored at the
//     moment the subscription went past due, runs out.
//   - Canceled, Incomplete, an elapsed period end or an unknown tier grant Free.
//
// Granted features are the union of every tier at or below the effective rank.
package entitlement
