package models

// WalletConnection is the live link to a wallet provider.
// Connected implies a non-empty address.
type WalletConnection struct {
	Address     string `json:"address"`
	IsConnected bool   `json:"connected"`
}

func ConnectedWallet(address string) WalletConnection {
	if address == "" {
		return WalletConnection{}
	}
	return WalletConnection{Address: address, IsConnected: true}
}

// Valid reports whether the record satisfies the connected-implies-address rule.
func (w WalletConnection) Valid() bool {
	return !w.IsConnected || w.Address != ""
}
