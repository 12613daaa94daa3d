package protocol

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerGetProtocols(t *testing.T) {
	m := NewManager(Config{ChainID: 7, AcceptObservers: true})
	assert.Equal(t, []string{
		"cbnp/1/0000000000000007",
		"cbnp/1/0000000000000007/observer",
	}, m.GetProtocols())

	m = NewManager(Config{ChainID: 7})
	assert.Equal(t, []string{"cbnp/1/0000000000000007"}, m.GetProtocols())
}

func TestManagerValidateConnection(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		negotiated string
		wantErr    bool
	}{
		{"matching chain", Config{ChainID: 7}, "cbnp/1/0000000000000007", false},
		{"observer accepted", Config{ChainID: 7, AcceptObservers: true}, "cbnp/1/0000000000000007/observer", false},
		{"observer refused", Config{ChainID: 7}, "cbnp/1/0000000000000007/observer", true},
		{"wrong chain", Config{ChainID: 7}, "cbnp/1/0000000000000008", true},
		{"nothing negotiated", Config{ChainID: 7}, "", true},
		{"garbage", Config{ChainID: 7}, "h3", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(tc.config)
			err := m.ValidateConnection(tls.ConnectionState{NegotiatedProtocol: tc.negotiated})
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
