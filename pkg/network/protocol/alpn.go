package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// protocolPrefix names the node wire protocol in ALPN strings.
	protocolPrefix = "cbnp"

	// currentVersion is the protocol major version.
	currentVersion = "1"

	// observerSuffix marks read-only connections from indexers and monitors.
	observerSuffix = "observer"

	// chainIDLength is the zero-padded hex width of the chain ID.
	chainIDLength = 16
)

// ProtocolID is a parsed ALPN protocol identifier.
// Format: cbnp/<version>/<chain-id-hex>[/observer]
//
// The chain ID is part of the ALPN string so a connection to a node on the
// wrong chain fails during the TLS handshake, before any stream is opened.
type ProtocolID struct {
	Version  string
	ChainID  uint64
	Observer bool
}

// NewProtocolID creates a ProtocolID for the current protocol version.
func NewProtocolID(chainID uint64, observer bool) *ProtocolID {
	return &ProtocolID{
		Version:  currentVersion,
		ChainID:  chainID,
		Observer: observer,
	}
}

// String formats the identifier, e.g. "cbnp/1/0000000000000007" or
// "cbnp/1/0000000000000007/observer".
func (p *ProtocolID) String() string {
	parts := []string{protocolPrefix, p.Version, fmt.Sprintf("%0*x", chainIDLength, p.ChainID)}
	if p.Observer {
		parts = append(parts, observerSuffix)
	}
	return strings.Join(parts, "/")
}

// ParseProtocolID parses and validates an ALPN protocol string.
func ParseProtocolID(protocol string) (*ProtocolID, error) {
	parts := strings.Split(protocol, "/")
	if len(parts) < 3 || len(parts) > 4 {
		return nil, fmt.Errorf("invalid protocol format: %s", protocol)
	}
	if parts[0] != protocolPrefix {
		return nil, fmt.Errorf("invalid protocol prefix: %s", parts[0])
	}
	if parts[1] != currentVersion {
		return nil, fmt.Errorf("unsupported protocol version: %s", parts[1])
	}

	raw := parts[2]
	if len(raw) != chainIDLength {
		return nil, fmt.Errorf("invalid chain id length: %s", raw)
	}
	chainID, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chain id: %s", raw)
	}

	observer := false
	if len(parts) == 4 {
		if parts[3] != observerSuffix {
			return nil, fmt.Errorf("invalid protocol suffix: %s", parts[3])
		}
		observer = true
	}

	return &ProtocolID{
		Version:  parts[1],
		ChainID:  chainID,
		Observer: observer,
	}, nil
}

// AcceptableProtocols returns all protocol strings a node on the given chain
// negotiates: the full protocol and the observer variant.
func AcceptableProtocols(chainID uint64) []string {
	return []string{
		NewProtocolID(chainID, false).String(),
		NewProtocolID(chainID, true).String(),
	}
}
