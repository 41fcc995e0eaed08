package models

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is a lowercase-normalized wallet address. It is the canonical
// subject of a session; exactly one identity is active at a time.
type Identity string

// NormalizeIdentity lowercases a hex wallet address. It returns the empty
// Identity if the input is not a valid address.
func NormalizeIdentity(addr string) Identity {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return ""
	}
	return Identity(strings.ToLower(addr))
}

// Address returns the go-ethereum address form of the identity.
func (i Identity) Address() common.Address {
	return common.HexToAddress(string(i))
}

func (i Identity) String() string {
	return string(i)
}
