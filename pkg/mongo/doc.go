// Package mongo connects the official MongoDB v2 driver with retries.
package mongo
