// Package config provides server configuration for corestore-server.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - cluster.go: conversion into internal/cluster/raft and
//     internal/cluster/membership configs
//   - verify.go: Business validation (required paths, cluster invariants)
//   - sanitize.go: Log sanitization (hide sensitive values)
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and environment variables, layered over Default().
package config
