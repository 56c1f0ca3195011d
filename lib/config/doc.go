// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sockbridge daemon configuration.
//
// Configuration comes from a single file named by either the
// SOCKBRIDGE_CONFIG environment variable (via [Load]) or the --config
// flag (via [LoadFile]). There is no discovery and no environment
// variable overriding of individual values. Files ending in .json or
// .jsonc are stripped of comments and trailing commas before parsing;
// everything else is parsed as YAML.
//
// The file may carry environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without an explicit section
// logs JSON at info level.
//
// ${HOME}, ${XDG_RUNTIME_DIR} and ${VAR:-default} patterns are expanded
// in host.socket_path after loading.
//
// Key exports:
//
//   - [Config] -- Host, Sockets, Events, Logging sections
//   - [Default] -- a complete Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other sockbridge packages.
package config
