// Package config handles configuration loading for coven-responder.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file, chosen by extension
// (.toml is TOML, anything else is YAML). A .env file next to the config
// file, or in the working directory, is loaded into the environment first.
//
// # Configuration File
//
// Default location: $XDG_CONFIG_HOME/coven-responder/config.toml, overridable
// with --config or COVEN_RESPONDER_CONFIG.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[matrix]
//	password = "${MATRIX_PASSWORD}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	conversation:
//	  timeout: "120s"
//	  followup_window: "60s"
//
// # Configuration Sections
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  username: "responder"
//	  password: "${MATRIX_PASSWORD}"
//	  recovery_key: "${MATRIX_RECOVERY_KEY}"  # optional, enables E2EE
//	  allowed_rooms: ["!ops:example.org"]     # empty allows every joined room
//	  debug_room: "!debug:example.org"        # optional failure reports
//
//	gateway:
//	  url: "http://localhost:8080"
//	  token: "${COVEN_GATEWAY_TOKEN}"  # optional bearer token
//	  agent_id: "responder"
//	  judge_agent_id: "judge"  # defaults to agent_id
//
//	conversation:
//	  timeout: "120s"
//	  followup_window: "60s"
//	  sweep_interval: "1m"
//	  recent_context_window: "5m"
//	  recent_context_limit: 10
//
//	judge:
//	  enabled: false
//	  timeout: "10s"
//	  context_messages: 10
//
//	responder:
//	  max_message_length: 4000
//	  typing_indicator: true
//
//	database:
//	  path: "coven-responder.db"
//	  retention: "720h"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
