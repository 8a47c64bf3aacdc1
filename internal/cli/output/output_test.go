package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "table", want: FormatTable},
		{input: "", want: FormatTable},
		{input: "JSON", want: FormatJSON},
		{input: "yml", want: FormatYAML},
		{input: "  yaml ", want: FormatYAML},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type setting struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

func TestPrint(t *testing.T) {
	data := []setting{{Name: "pg_web.port", Value: "8080"}}

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatJSON, data))
	assert.JSONEq(t, `[{"name":"pg_web.port","value":"8080"}]`, buf.String())

	buf.Reset()
	require.NoError(t, Print(&buf, FormatYAML, data))
	assert.Equal(t, "- name: pg_web.port\n  value: \"8080\"\n", buf.String())

	// Without a TableRenderer, table output falls back to YAML.
	buf.Reset()
	require.NoError(t, Print(&buf, FormatTable, data))
	assert.Contains(t, buf.String(), "name: pg_web.port")

	assert.Error(t, Print(&buf, Format("xml"), data))
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Setting")
	table.AddRow("pg_web.port", "8080")
	table.AddRow("pg_web.log_level", "INFO")

	require.Len(t, table.Rows(), 2)

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, table))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "SETTING")
	assert.Contains(t, out, "pg_web.port")
	assert.Contains(t, out, "INFO")
}
