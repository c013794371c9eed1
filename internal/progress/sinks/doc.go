// Package sinks implements progress consumers for structured logging and metrics.
package sinks
