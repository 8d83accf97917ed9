// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/periodarr/periodarr/internal/database"
	"github.com/periodarr/periodarr/internal/dbinterface"
)

func setupTestDB(t *testing.T) dbinterface.TxQuerier {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db.Conn()
}
