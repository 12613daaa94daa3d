package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolIDString(t *testing.T) {
	assert.Equal(t, "cbnp/1/0000000000000007", NewProtocolID(7, false).String())
	assert.Equal(t, "cbnp/1/0000000000000007/observer", NewProtocolID(7, true).String())
	assert.Equal(t, "cbnp/1/ffffffffffffffff", NewProtocolID(^uint64(0), false).String())
}

func TestParseProtocolID(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		wantErr  bool
		chainID  uint64
		observer bool
	}{
		{"full", "cbnp/1/0000000000000007", false, 7, false},
		{"observer", "cbnp/1/0000000000000007/observer", false, 7, true},
		{"max chain id", "cbnp/1/ffffffffffffffff", false, ^uint64(0), false},
		{"wrong prefix", "xbnp/1/0000000000000007", true, 0, false},
		{"wrong version", "cbnp/2/0000000000000007", true, 0, false},
		{"short chain id", "cbnp/1/0007", true, 0, false},
		{"non-hex chain id", "cbnp/1/000000000000000g", true, 0, false},
		{"bad suffix", "cbnp/1/0000000000000007/builder", true, 0, false},
		{"too few parts", "cbnp/1", true, 0, false},
		{"too many parts", "cbnp/1/0000000000000007/observer/x", true, 0, false},
		{"empty", "", true, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ParseProtocolID(tc.protocol)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.chainID, id.ChainID)
			assert.Equal(t, tc.observer, id.Observer)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, id := range []*ProtocolID{
		NewProtocolID(1, false),
		NewProtocolID(12345, true),
	} {
		parsed, err := ParseProtocolID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestAcceptableProtocols(t *testing.T) {
	protos := AcceptableProtocols(7)
	require.Len(t, protos, 2)
	assert.Equal(t, "cbnp/1/0000000000000007", protos[0])
	assert.Equal(t, "cbnp/1/0000000000000007/observer", protos[1])
}
