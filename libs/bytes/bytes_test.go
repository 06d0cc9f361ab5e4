package bytes

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalJSON(t *testing.T) {
	testCases := []struct {
		input    []byte
		expected string
	}{
		{[]byte(``), `"0x"`},
		{[]byte{0xde, 0xad, 0xbe, 0xef}, `"0xdeadbeef"`},
		{[]byte(`a`), `"0x61"`},
	}

	for _, tc := range testCases {
		bz, err := json.Marshal(HexBytes(tc.input))
		require.NoError(t, err)
		assert.Equal(t, tc.expected, string(bz))
	}
}

func TestUnmarshalJSON(t *testing.T) {
	testCases := []struct {
		input     string
		expected  []byte
		expectErr bool
	}{
		{`"0x"`, []byte{}, false},
		{`"0xdeadbeef"`, []byte{0xde, 0xad, 0xbe, 0xef}, false},
		{`"0XDEADBEEF"`, []byte{0xde, 0xad, 0xbe, 0xef}, false},
		{`"deadbeef"`, nil, true},
		{`"0xzz"`, nil, true},
		{`null`, nil, false},
	}

	for _, tc := range testCases {
		var bz HexBytes
		err := json.Unmarshal([]byte(tc.input), &bz)
		if tc.expectErr {
			require.Error(t, err, "input %q", tc.input)
			continue
		}
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, []byte(tc.expected), []byte(bz), "input %q", tc.input)
	}
}

func TestHexBytesFormat(t *testing.T) {
	hb := HexBytes([]byte{0x01, 0xff})
	assert.Equal(t, "0x01ff", fmt.Sprintf("%v", hb))
	assert.Equal(t, "0x01ff", hb.String())
}
