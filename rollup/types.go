package rollup

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stateshift/rollup-httpd/libs/bytes"
)

// AddressSize is the length, in bytes, of a rollup destination address.
const AddressSize = 20

// Request type discriminators returned by the device on finish.
const (
	requestTypeAdvance = 0
	requestTypeInspect = 1
)

// Public request type tags used on the HTTP surface.
const (
	AdvanceStateType = "advance_state"
	InspectStateType = "inspect_state"
)

var (
	// ErrInvalidAddress is returned when a voucher destination is not a
	// "0x"-prefixed hex string of exactly 2*AddressSize+2 characters.
	ErrInvalidAddress = errors.New("address not valid")

	// ErrInvalidFinishStatus is returned when a finish status is neither
	// "accept" nor "reject".
	ErrInvalidFinishStatus = errors.New("status must be 'accept' or 'reject'")

	// ErrUnknownRequestType is returned when the device reports a request
	// type discriminator outside {advance, inspect}.
	ErrUnknownRequestType = errors.New("unknown request type")

	// ErrFinishTransaction marks a failure of the finish write itself, as
	// opposed to fetching the request it announced.
	ErrFinishTransaction = errors.New("finish request")
)

// Voucher is an on-chain-executable output produced during advance
// processing. The destination is a "0x"-prefixed hex address string.
type Voucher struct {
	Destination string         `json:"destination"`
	Payload     bytes.HexBytes `json:"payload"`
}

// ValidateBasic checks the destination address format. Vouchers failing this
// check must never reach the device.
func (v *Voucher) ValidateBasic() error {
	_, err := DecodeAddress(v.Destination)
	return err
}

// DecodeAddress parses a "0x"-prefixed hex address string of exactly
// 2*AddressSize+2 characters into its byte form.
func DecodeAddress(s string) ([AddressSize]byte, error) {
	var addr [AddressSize]byte
	if len(s) != 2*AddressSize+2 || !strings.HasPrefix(s, "0x") {
		return addr, ErrInvalidAddress
	}
	dec, err := hex.DecodeString(s[2:])
	if err != nil {
		return addr, ErrInvalidAddress
	}
	copy(addr[:], dec)
	return addr, nil
}

// Notice is an off-chain-verifiable output produced during advance
// processing.
type Notice struct {
	Payload bytes.HexBytes `json:"payload"`
}

// Report is a diagnostic output with no on-chain effect.
type Report struct {
	Payload bytes.HexBytes `json:"payload"`
}

// Exception signals that the DApp cannot proceed with request processing.
// By protocol contract this is expected to be the last record written in a
// processing cycle; the server documents but does not enforce that.
type Exception struct {
	Payload bytes.HexBytes `json:"payload"`
}

// GIORequest is a generic I/O passthrough request to an external data
// source.
type GIORequest struct {
	Domain  uint16         `json:"domain"`
	ID      uint64         `json:"id"`
	Payload bytes.HexBytes `json:"payload"`
}

// ValidateBasic rejects domains below the application range.
func (g *GIORequest) ValidateBasic() error {
	if g.Domain < 0x10 {
		return fmt.Errorf("gio domain must be at least 0x10, got 0x%x", g.Domain)
	}
	return nil
}

// GIOResponse carries the device's raw response to a GIO request.
type GIOResponse struct {
	ResponseCode uint16         `json:"response_code"`
	Response     bytes.HexBytes `json:"response"`
}

// FinishRequest is the DApp's completion signal for the request it has just
// processed.
type FinishRequest struct {
	Status string `json:"status"`
}

// Accept maps the status literal to the boolean passed to the device.
// Anything other than "accept" or "reject" fails validation with zero
// device interaction.
func (f *FinishRequest) Accept() (bool, error) {
	switch f.Status {
	case "accept":
		return true, nil
	case "reject":
		return false, nil
	default:
		return false, ErrInvalidFinishStatus
	}
}

// AdvanceMetadata describes the chain context of an advance request.
type AdvanceMetadata struct {
	MsgSender   string `json:"msg_sender"`
	EpochIndex  uint64 `json:"epoch_index"`
	InputIndex  uint64 `json:"input_index"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   uint64 `json:"timestamp"`
}

// AdvanceRequest is a state-changing input delivered from the chain layer.
// It is immutable once received.
type AdvanceRequest struct {
	Metadata AdvanceMetadata `json:"metadata"`
	Payload  bytes.HexBytes  `json:"payload"`
}

// InspectRequest is a read-only query delivered to the DApp; it is not
// persisted on-chain.
type InspectRequest struct {
	Payload bytes.HexBytes `json:"payload"`
}

// Request is the tagged union produced by the device after a finish
// transaction: exactly one of Advance or Inspect is set.
type Request struct {
	Advance *AdvanceRequest
	Inspect *InspectRequest
}

// Type returns the public request type tag.
func (r *Request) Type() string {
	if r.Advance != nil {
		return AdvanceStateType
	}
	return InspectStateType
}

type requestEnvelope struct {
	RequestType string          `json:"request_type"`
	Data        json.RawMessage `json:"data"`
}

// MarshalJSON renders the union in its public shape:
// {"request_type": "advance_state"|"inspect_state", "data": {...}}.
func (r Request) MarshalJSON() ([]byte, error) {
	var (
		data interface{}
		tag  string
	)
	switch {
	case r.Advance != nil:
		tag, data = AdvanceStateType, r.Advance
	case r.Inspect != nil:
		tag, data = InspectStateType, r.Inspect
	default:
		return nil, errors.New("empty rollup request")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestEnvelope{RequestType: tag, Data: raw})
}

// UnmarshalJSON decodes the public shape back into the tagged union.
func (r *Request) UnmarshalJSON(data []byte) error {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.RequestType {
	case AdvanceStateType:
		r.Advance = new(AdvanceRequest)
		return json.Unmarshal(env.Data, r.Advance)
	case InspectStateType:
		r.Inspect = new(InspectRequest)
		return json.Unmarshal(env.Data, r.Inspect)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRequestType, env.RequestType)
	}
}
