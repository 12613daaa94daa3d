package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec implements the Codec interface using canonical CBOR (RFC 8949
// core deterministic encoding). Stored records, outbox events and wire
// messages all go through this codec; canonical form keeps encodings stable
// across versions so persisted state survives process upgrades.
type CBORCodec struct{}

var (
	cborEncMode, _ = cbor.CanonicalEncOptions().EncMode()
	cborDecMode, _ = cbor.DecOptions{}.DecMode()
)

func (c *CBORCodec) Marshal(v interface{}) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (c *CBORCodec) Unmarshal(data []byte, v interface{}) error {
	return cborDecMode.Unmarshal(data, v)
}
