package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"y": []any{1, "x"}, "x": true}}
	b := map[string]any{"a": map[string]any{"x": true, "y": []any{1, "x"}}, "b": 1}

	ja, err := CanonicalJSON(a)
	require.NoError(t, err)
	jb, err := CanonicalJSON(b)
	require.NoError(t, err)

	assert.Equal(t, string(ja), string(jb))
	assert.Equal(t, `{"a":{"x":true,"y":[1,"x"]},"b":1}`, string(ja))
}

func TestCanonicalJSON_StructsMatchMaps(t *testing.T) {
	type in struct {
		Z string `json:"z"`
		A int    `json:"a"`
	}
	js, err := CanonicalJSON(in{Z: "z", A: 1})
	require.NoError(t, err)
	jm, err := CanonicalJSON(map[string]any{"z": "z", "a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, string(jm), string(js))
}

func TestDecode(t *testing.T) {
	type filter struct {
		Q        string `json:"q"`
		PageSize int    `json:"pageSize"`
	}
	f, err := Decode[filter](map[string]any{"q": "rent", "pageSize": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, filter{Q: "rent", PageSize: 5}, f)
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Hi {{.name | default \"there\"}} <{{upper .currency}}>", map[string]any{"currency": "eur"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there <EUR>", out)

	plain, err := RenderTemplate("no markers", nil)
	require.NoError(t, err)
	assert.Equal(t, "no markers", plain)
}
