// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Huddle configuration.
//
// Configuration comes from exactly one file, named by the --config flag
// or the HUDDLE_CONFIG environment variable. There is no discovery and
// no layering of multiple files, so the file a process loaded is always
// the whole story.
//
// The file is YAML, or JSON with comments when its extension is .json
// or .jsonc. Optional development and production sections override
// base values for the matching environment; only the keys present in
// the section are applied. Path fields support ${HOME}, ${HUDDLE_ROOT},
// and ${VAR:-default} expansion.
package config
