package crypto

const (
	HashSize       = 32
	AddressSize    = 20
	SignatureSize  = 65
	PrivateKeySize = 32
)
