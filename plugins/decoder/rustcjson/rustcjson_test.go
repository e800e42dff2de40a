package rustcjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noteLine = `{"$message_type":"diagnostic","message":"some note","code":null,"level":"note","spans":[{"file_name":"build/generated.rs","line_start":3,"line_end":3,"column_start":1,"column_end":2,"is_primary":true,"label":null}],"children":[],"rendered":"note: some note\n"}`

const errorLine = `{"$message_type":"diagnostic","message":"cannot find value ` + "`y`" + ` in this scope","code":{"code":"E0425","explanation":"..."},"level":"error","spans":[{"file_name":"build/generated.rs","line_start":42,"line_end":42,"column_start":13,"column_end":14,"is_primary":true,"label":"not found in this scope"},{"file_name":"build/generated.rs","line_start":40,"line_end":40,"column_start":1,"column_end":2,"is_primary":false,"label":"secondary"}],"children":[{"message":"consider importing","code":null,"level":"help","spans":[],"children":[],"rendered":null}],"rendered":"error[E0425]: ...\n"}`

func TestDecodeSkipsGarbage(t *testing.T) {
	dec, err := New(nil)
	require.NoError(t, err)
	raw := []byte("warning: plain text line\n" +
		"{not json\n" +
		`{"$message_type":"artifact","artifact":"x.d","emit":"dep-info"}` + "\n" +
		`{"reason":"compiler-artifact","package_id":"p"}` + "\n" +
		`{"unrelated":true}` + "\n" +
		"\n" +
		noteLine + "\n" +
		errorLine + "\n")
	diags := dec.Decode(raw)
	require.Len(t, diags, 2)
	assert.Equal(t, "note", diags[0].Level)

	e := diags[1]
	assert.Equal(t, "error", e.Level)
	assert.Equal(t, "E0425", e.Code)
	require.Len(t, e.Spans, 2)
	assert.Equal(t, "not found in this scope", e.Spans[0].Label)
	assert.Equal(t, 13, e.Spans[0].ColumnStart)
	require.Len(t, e.Children, 1)
	assert.Equal(t, "help", e.Children[0].Level)
	assert.Empty(t, e.Children[0].Rendered)
}

// cargo 包装记录：嵌套 message
func TestDecodeCargoWrapper(t *testing.T) {
	dec, _ := New(nil)
	raw := []byte(`{"reason":"compiler-message","package_id":"p","message":` + errorLine + "}\n" +
		`{"reason":"build-finished","success":false}` + "\n")
	diags := dec.Decode(raw)
	require.Len(t, diags, 1)
	assert.Equal(t, 42, diags[0].PrimarySpan().LineStart)
}

// 旧版 rustc（无 $message_type）仍按 level+message 识别
func TestDecodeLegacyShape(t *testing.T) {
	dec, _ := New(nil)
	diags := dec.Decode([]byte(`{"message":"m","level":"warning","spans":[]}`))
	require.Len(t, diags, 1)
	assert.Equal(t, "warning", diags[0].Level)
}

