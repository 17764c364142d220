package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// codecName is the Connect codec name; unary requests travel as
// application/cbor.
const codecName = "cbor"

// cborCodec serves plain Go structs over Connect.
type cborCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() *cborCodec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	return &cborCodec{enc: enc}
}

func (c *cborCodec) Name() string { return codecName }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	return cbor.Unmarshal(data, msg)
}
