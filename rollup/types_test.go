package rollup_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateshift/rollup-httpd/rollup"
)

func TestVoucherValidateBasic(t *testing.T) {
	testCases := []struct {
		name        string
		destination string
		expectErr   bool
	}{
		{"valid", "0x" + strings.Repeat("fa", rollup.AddressSize), false},
		{"missing prefix", strings.Repeat("fa", rollup.AddressSize) + "00", true},
		{"too short", "0xfafa", true},
		{"too long", "0x" + strings.Repeat("fa", rollup.AddressSize+1), true},
		{"not hex", "0x" + strings.Repeat("zz", rollup.AddressSize), true},
		{"empty", "", true},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			v := rollup.Voucher{Destination: tc.destination, Payload: []byte{0x01}}
			err := v.ValidateBasic()
			if tc.expectErr {
				require.ErrorIs(t, err, rollup.ErrInvalidAddress)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestFinishRequestAccept(t *testing.T) {
	testCases := []struct {
		status    string
		accept    bool
		expectErr bool
	}{
		{"accept", true, false},
		{"reject", false, false},
		{"Accept", false, true},
		{"maybe", false, true},
		{"", false, true},
	}

	for _, tc := range testCases {
		f := rollup.FinishRequest{Status: tc.status}
		accept, err := f.Accept()
		if tc.expectErr {
			require.ErrorIs(t, err, rollup.ErrInvalidFinishStatus, "status %q", tc.status)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.accept, accept, "status %q", tc.status)
	}
}

func TestGIORequestValidateBasic(t *testing.T) {
	req := rollup.GIORequest{Domain: 0x0f}
	require.Error(t, req.ValidateBasic())

	req.Domain = 0x10
	require.NoError(t, req.ValidateBasic())
}

func TestGIORequestJSON(t *testing.T) {
	// the id travels as a JSON number, not a hex payload
	var req rollup.GIORequest
	require.NoError(t, json.Unmarshal([]byte(`{"domain":16,"id":3,"payload":"0x02"}`), &req))
	assert.EqualValues(t, 16, req.Domain)
	assert.EqualValues(t, 3, req.ID)
	assert.Equal(t, []byte{0x02}, []byte(req.Payload))

	require.Error(t, json.Unmarshal([]byte(`{"domain":16,"id":"0x01","payload":"0x02"}`), &req))

	bz, err := json.Marshal(rollup.GIORequest{Domain: 0x10, ID: 3, Payload: []byte{0x02}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":16,"id":3,"payload":"0x02"}`, string(bz))
}

func TestRequestJSON(t *testing.T) {
	t.Run("advance", func(t *testing.T) {
		req := rollup.Request{
			Advance: &rollup.AdvanceRequest{
				Metadata: rollup.AdvanceMetadata{
					MsgSender:   "0x" + strings.Repeat("01", rollup.AddressSize),
					EpochIndex:  3,
					InputIndex:  7,
					BlockNumber: 42,
					Timestamp:   1700000000,
				},
				Payload: []byte{0xde, 0xad},
			},
		}

		bz, err := json.Marshal(req)
		require.NoError(t, err)
		assert.Contains(t, string(bz), `"request_type":"advance_state"`)
		assert.Contains(t, string(bz), `"payload":"0xdead"`)

		var got rollup.Request
		require.NoError(t, json.Unmarshal(bz, &got))
		require.NotNil(t, got.Advance)
		require.Nil(t, got.Inspect)
		assert.Equal(t, req.Advance.Metadata, got.Advance.Metadata)
		assert.Equal(t, []byte(req.Advance.Payload), []byte(got.Advance.Payload))
	})

	t.Run("inspect", func(t *testing.T) {
		req := rollup.Request{
			Inspect: &rollup.InspectRequest{Payload: []byte{0xbe, 0xef}},
		}

		bz, err := json.Marshal(req)
		require.NoError(t, err)
		assert.Contains(t, string(bz), `"request_type":"inspect_state"`)
		assert.Contains(t, string(bz), `"payload":"0xbeef"`)

		var got rollup.Request
		require.NoError(t, json.Unmarshal(bz, &got))
		require.Nil(t, got.Advance)
		require.NotNil(t, got.Inspect)
	})

	t.Run("empty union fails to marshal", func(t *testing.T) {
		_, err := json.Marshal(rollup.Request{})
		require.Error(t, err)
	})

	t.Run("unknown tag fails to unmarshal", func(t *testing.T) {
		var got rollup.Request
		err := json.Unmarshal([]byte(`{"request_type":"snapshot_state","data":{}}`), &got)
		require.ErrorIs(t, err, rollup.ErrUnknownRequestType)
	})
}
