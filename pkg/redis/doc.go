// Package redis connects a go-redis client with retries and exposes a
// healthcheck closure. The usage package builds its atomic counter store on
// top of the returned client.
package redis
