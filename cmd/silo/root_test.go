package main

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestResolveGlobals(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want globals
	}{
		{
			name: "Defaults",
			want: globals{config: "silo.yaml"},
		},
		{
			name: "Environment",
			env: map[string]string{
				"SILO_CONFIG":         "conf/app.yaml",
				"SILO_COMMAND_PREFIX": "db",
				"SILO_VERBOSE":        "true",
				"NO_COLOR":            "1",
			},
			want: globals{config: "conf/app.yaml", configSet: true, prefix: "db", verbose: true, noColor: true},
		},
		{
			name: "Flags Override Environment",
			args: []string{"--prefix", "app", "-c", "other.yaml", "managers"},
			env:  map[string]string{"SILO_COMMAND_PREFIX": "db"},
			want: globals{config: "other.yaml", configSet: true, prefix: "app"},
		},
		{
			name: "Unknown Flags Are Left To Commands",
			args: []string{"orm:schema-tool:drop", "--force", "-v"},
			want: globals{config: "silo.yaml", verbose: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveGlobals(tt.args, lookupFrom(tt.env))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveGlobalsInvalidEnvironment(t *testing.T) {
	_, err := resolveGlobals(nil, lookupFrom(map[string]string{"SILO_VERBOSE": "maybe"}))
	require.Error(t, err)
}

func TestManagerRowsWithoutRegistry(t *testing.T) {
	rows, err := managerRows(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestResolveGlobalsMalformedFlagIsSilent(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stderr := os.Stderr
	os.Stderr = w
	t.Cleanup(func() { os.Stderr = stderr })

	_, err = resolveGlobals([]string{"--config"}, lookupFrom(nil))
	os.Stderr = stderr
	require.NoError(t, w.Close())
	require.Error(t, err)

	printed, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, string(printed))
}
