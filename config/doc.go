// Package config loads the YAML configuration of an agentplan deployment
// (engine policy, checkpoint policy, LLM provider, storage and queue
// drivers, logging) and YAML goal files.
package config
