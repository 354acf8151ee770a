package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReadCandidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	body := `[{"email": "donor@example.org", "amount": 25, "frequency": "monthly", "created_at": "2025-05-01T10:00:00Z"},
	          {"receipt_id": "812"}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	got, err := readCandidates(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "donor@example.org", got[0].Email)
	require.True(t, got[0].Amount.Equal(decimal.NewFromInt(25)))
	require.True(t, got[0].Recurring())
	require.Equal(t, time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), got[0].CreatedAt.UTC())
	require.Equal(t, "812", got[1].ReceiptID)
}

func TestReadCandidatesRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"email":`), 0o600))

	_, err := readCandidates(path)
	require.ErrorContains(t, err, "parse candidates")
}

func TestFlagValidationRunsBeforeBoot(t *testing.T) {
	cases := [][]string{
		{"reconcile", "--batch-size=-5"},
		{"recover", "--limit=-1"},
		{"recover", "--candidates", filepath.Join(t.TempDir(), "absent.json")},
	}

	for _, args := range cases {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)

		err := cmd.Execute()
		require.Error(t, err, args)
		require.Empty(t, out.String())
	}
}
