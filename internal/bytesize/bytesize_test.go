package bytesize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"0", 0},
		{"8192", 8192},
		{"512B", 512},
		{"8KiB", 8 * KiB},
		{"8ki", 8 * KiB},
		{"16k", 16 * KB},
		{"1MB", MB},
		{"2MiB", 2 * MiB},
		{"1GiB", GiB},
		{" 4 KiB ", 4 * KiB},
		{"1.5KiB", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "KiB", "-1", "12 parsecs", "1.2.3K", "99999999999999999999GiB"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "0B", ByteSize(0).String())
	assert.Equal(t, "1000B", KB.String())
	assert.Equal(t, "8KiB", (8 * KiB).String())
	assert.Equal(t, "3MiB", (3 * MiB).String())
	assert.Equal(t, "2GiB", (2 * GiB).String())
	assert.Equal(t, "8193B", ByteSize(8193).String())
}

func TestStringParsesBack(t *testing.T) {
	for _, b := range []ByteSize{0, 1, 1000, 8 * KiB, 8193, 5 * MiB, GiB} {
		got, err := Parse(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestInt(t *testing.T) {
	assert.Equal(t, 8192, (8 * KiB).Int())
	assert.Equal(t, int(^uint(0)>>1), ByteSize(^uint64(0)).Int())
}

func TestTextEncoding(t *testing.T) {
	type doc struct {
		Size ByteSize `json:"size" yaml:"size"`
	}

	out, err := yaml.Marshal(doc{Size: 8 * KiB})
	require.NoError(t, err)
	assert.Equal(t, "size: 8KiB\n", string(out))

	var d doc
	require.NoError(t, yaml.Unmarshal([]byte("size: 16KiB\n"), &d))
	assert.Equal(t, 16*KiB, d.Size)

	js, err := json.Marshal(doc{Size: 4 * KiB})
	require.NoError(t, err)
	assert.JSONEq(t, `{"size":"4KiB"}`, string(js))
}
