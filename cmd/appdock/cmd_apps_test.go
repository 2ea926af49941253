// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/appdock/cmd/appdock/config"
)

func TestParseSetFlags(t *testing.T) {
	values, err := parseSetFlags([]string{"ADMIN_EMAIL=root@example.com", "THEME=dark=mode"})
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", values["ADMIN_EMAIL"])
	assert.Equal(t, "dark=mode", values["THEME"], "values may contain '='")

	_, err = parseSetFlags([]string{"NOVALUE"})
	assert.Error(t, err)

	_, err = parseSetFlags([]string{"=value"})
	assert.Error(t, err)

	values, err = parseSetFlags(nil)
	require.NoError(t, err)
	assert.Nil(t, values)
}

func TestAPIBaseRewritesWildcardBind(t *testing.T) {
	orig := config.Global
	t.Cleanup(func() { config.Global = orig })

	config.Global.Server.Host = "0.0.0.0"
	config.Global.Server.Port = 8098
	assert.Equal(t, "http://127.0.0.1:8098/v1", apiBase())

	config.Global.Server.Host = "appdock.lan"
	assert.Equal(t, "http://appdock.lan:8098/v1", apiBase())
}
