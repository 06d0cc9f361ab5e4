package bytes

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a wrapper around []byte that encodes data as "0x"-prefixed
// lowercase hexadecimal strings for use in JSON, the payload encoding used
// across the rollup HTTP API.
type HexBytes []byte

// MarshalText encodes a HexBytes value as "0x"-prefixed hexadecimal digits.
// This method is used by json.Marshal.
func (bz HexBytes) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(bz)), nil
}

// UnmarshalText handles decoding of HexBytes from JSON strings. This method
// is used by json.Unmarshal. The input must carry the "0x" prefix.
func (bz *HexBytes) UnmarshalText(data []byte) error {
	input := string(data)
	if input == "" || input == "null" {
		return nil
	}
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		return fmt.Errorf("invalid hex string %q: missing 0x prefix", input)
	}
	dec, err := hex.DecodeString(input[2:])
	if err != nil {
		return err
	}
	*bz = HexBytes(dec)
	return nil
}

// Bytes fulfills various interfaces throughout the server.
func (bz HexBytes) Bytes() []byte {
	return bz
}

func (bz HexBytes) String() string {
	return "0x" + hex.EncodeToString(bz)
}

// Format writes either the address of the 0th element in base 16 notation
// (%p), or the "0x"-prefixed hexadecimal string to s.
func (bz HexBytes) Format(s fmt.State, verb rune) {
	switch verb {
	case 'p':
		s.Write([]byte(fmt.Sprintf("%p", bz)))
	default:
		s.Write([]byte(bz.String()))
	}
}

// Copy creates a deep copy of HexBytes. It allocates a new buffer and copies
// data into it.
func (bz HexBytes) Copy() HexBytes {
	if bz == nil {
		return nil
	}
	copied := make(HexBytes, len(bz))
	copy(copied, bz)
	return copied
}

func (bz HexBytes) Equal(b []byte) bool {
	return bytes.Equal(bz, b)
}
