package types

// Address is a device derived address together with the public key it belongs to.
type Address struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// Signature is a hex encoded (0x prefixed) signature returned by the device.
type Signature struct {
	Signature string `json:"signature"`
}

// Version describes the signing app running on the device.
type Version struct {
	IsLocked   bool      `json:"isLocked"`
	IsTestMode bool      `json:"isTestMode"`
	Version    [3]uint16 `json:"version"`
}
