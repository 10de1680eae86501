// Package config loads typed configuration structs from environment variables.
//
// It wraps github.com/caarlos0/env for tag-driven parsing and
// github.com/joho/godotenv for local .env files, and caches one parsed value
// per struct type for the lifetime of the process.
package config
