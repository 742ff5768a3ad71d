// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	out := String()

	assert.Contains(t, out, "Version: "+Version)
	assert.Contains(t, out, "Commit:")
	assert.Contains(t, out, "Build date:")
}

func TestJSON(t *testing.T) {
	out, err := JSON()
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, Version, decoded["version"])
}
