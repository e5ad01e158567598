package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfstore/internal/txn"
)

func TestParseBatchLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    batchOp
		wantErr bool
	}{
		{
			name: "write",
			line: "localhost 9090 --operation write --filename a.txt --client c1",
			want: batchOp{addr: "localhost:9090", operation: txn.OpWrite, filename: "a.txt", client: "c1"},
		},
		{
			name: "flags in any order",
			line: "10.0.0.1 9090 --client c2 --filename b.txt --operation DELETE",
			want: batchOp{addr: "10.0.0.1:9090", operation: txn.OpDelete, filename: "b.txt", client: "c2"},
		},
		{
			name: "client optional",
			line: "h 1 --operation read --filename c",
			want: batchOp{addr: "h:1", operation: txn.OpRead, filename: "c"},
		},
		{name: "missing port", line: "localhost", wantErr: true},
		{name: "bad port", line: "localhost 0 --operation read --filename a", wantErr: true},
		{name: "unknown operation", line: "h 1 --operation rename --filename a", wantErr: true},
		{name: "missing filename", line: "h 1 --operation read", wantErr: true},
		{name: "unknown flag", line: "h 1 --operation read --filename a --force", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBatchLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.txt")
	content := "# setup\n" +
		"localhost 9090 --operation write --filename a.txt --client c1\n" +
		"\n" +
		"localhost 9090 --operation read --filename a.txt --client c1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ops, err := loadBatch(path)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, 2, ops[0].line)
	assert.Equal(t, txn.OpWrite, ops[0].operation)
	assert.Equal(t, 4, ops[1].line)
	assert.Equal(t, txn.OpRead, ops[1].operation)

	require.NoError(t, os.WriteFile(path, []byte("localhost 9090 --operation move --filename a\n"), 0o644))
	_, err = loadBatch(path)
	assert.ErrorContains(t, err, "ops.txt:1")
}

func TestResolveClientID(t *testing.T) {
	assert.Equal(t, "c1", resolveClientID("c1"))
	a, b := resolveClientID(""), resolveClientID("")
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
