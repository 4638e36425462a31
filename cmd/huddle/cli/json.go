// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/spf13/pflag"
)

// JSONOutput adds a --json flag to a command.
type JSONOutput struct {
	Enabled bool
}

// AddFlags registers --json on flagSet.
func (j *JSONOutput) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.BoolVar(&j.Enabled, "json", false, "print the result as JSON")
}

// Emit writes value as indented JSON to w when --json was given and
// reports whether it did. A nil slice is written as [].
func (j *JSONOutput) Emit(w io.Writer, value any) (bool, error) {
	if !j.Enabled {
		return false, nil
	}
	if v := reflect.ValueOf(value); v.Kind() == reflect.Slice && v.IsNil() {
		value = reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return true, encoder.Encode(value)
}
