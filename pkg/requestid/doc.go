// Package requestid assigns every inbound request an id, exposes it through
// the context and feeds it to the logger.
package requestid
