package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/cifscore/pkg/cifs"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml ", want: FormatYAML},
		{name: "invalid", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
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

func snapshot() Connections {
	return Connections{{
		Server:  "10.0.0.5:445",
		State:   "good",
		Signing: true,
		Sessions: []cifs.SessionStatus{
			{User: `CORP\alice`, UID: 100, Method: "ntlmssp", Trees: []cifs.TreeStatus{
				{Share: `\\10.0.0.5\data`, TID: 1, Service: "A:", Refs: 2},
				{Share: `\\10.0.0.5\IPC$`, TID: 2, Service: "IPC", Refs: 1},
			}},
			{User: `CORP\bob`, UID: 101, Method: "ntlmv2"},
		},
	}, {
		Server: "10.0.0.6:445",
		State:  "reconnecting",
	}}
}

func TestConnectionsRows(t *testing.T) {
	rows := snapshot().Rows()
	require.Len(t, rows, 4)
	for _, row := range rows {
		assert.Len(t, row, len(Connections{}.Headers()))
	}
	assert.Equal(t, []string{"10.0.0.5:445", "good", "true", `CORP\alice`, "100", "ntlmssp", `\\10.0.0.5\data`, "1", "A:", "2"}, rows[0])
	assert.Equal(t, `CORP\bob`, rows[2][3])
	assert.Empty(t, rows[2][6])
	assert.Equal(t, "reconnecting", rows[3][1])
}

// =============================================================================
// Printer
// =============================================================================

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(snapshot()))
	assert.Contains(t, buf.String(), "SERVER")
	assert.Contains(t, buf.String(), `\\10.0.0.5\IPC$`)
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(snapshot()))
	assert.Contains(t, buf.String(), `"native_fs": ""`)
	assert.Contains(t, buf.String(), `"state": "reconnecting"`)
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(map[string]int{"trees": 3}))
	assert.Equal(t, "trees: 3\n", buf.String())
}

func TestPrinterTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n": 1}`, buf.String())
}

func TestPrinterMessagesWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)
	p.Success("bound")
	p.Failure("lost")
	assert.Equal(t, "bound\nlost\n", buf.String())
}

func TestPrintKeyValues(t *testing.T) {
	var buf bytes.Buffer
	kv := KeyValues{}.Add("Share", `\\srv\data`).Add("TID", "7")
	require.NoError(t, PrintKeyValues(&buf, kv))
	assert.Contains(t, buf.String(), "Share")
	assert.Contains(t, buf.String(), `\\srv\data`)
}
