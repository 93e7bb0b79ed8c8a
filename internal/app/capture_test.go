// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHubLine(t *testing.T) {
	s, err := parseHubLine("pelvis,0.1,-0.2,0.3,1.5,9.8,-0.4")
	require.NoError(t, err)
	assert.Equal(t, "pelvis", s.Source)
	assert.Equal(t, 0.1, s.Gx)
	assert.Equal(t, -0.2, s.Gy)
	assert.Equal(t, 0.3, s.Gz)
	assert.Equal(t, 1.5, s.Ax)
	assert.Equal(t, 9.8, s.Ay)
	assert.Equal(t, -0.4, s.Az)
	assert.False(t, s.HasMag)
}

func TestParseHubLineWithMag(t *testing.T) {
	s, err := parseHubLine("left_thigh, 0.1, -0.2, 0.3, 1.5, 9.8, -0.4, 22.1, -5.0, 41.3")
	require.NoError(t, err)
	assert.Equal(t, "left_thigh", s.Source)
	require.True(t, s.HasMag)
	assert.Equal(t, 22.1, s.Mx)
	assert.Equal(t, -5.0, s.My)
	assert.Equal(t, 41.3, s.Mz)
}

func TestParseHubLineFieldCount(t *testing.T) {
	_, err := parseHubLine("pelvis,1,2,3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 7 or 10 fields")
}

func TestParseHubLineBadNumber(t *testing.T) {
	_, err := parseHubLine("pelvis,1,2,x,4,5,6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 3")
}
