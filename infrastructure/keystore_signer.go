package infrastructure

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"stakemesh/wallet-client/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

// KeystoreSigner is a local wallet backed by an ECDSA key on disk. It
// produces personal_sign (EIP-191) signatures over challenge messages
// and stands in for the browser wallet at the signer boundary.
type KeystoreSigner struct {
	key      *ecdsa.PrivateKey
	identity models.Identity

	mu      sync.Mutex
	chainID int64
}

// NewKeystoreSigner loads the hex-encoded private key at path.
func NewKeystoreSigner(path string, chainID int64) (*KeystoreSigner, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keystore %s: %w", path, err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	return &KeystoreSigner{
		key:      key,
		identity: models.NormalizeIdentity(address.Hex()),
		chainID:  chainID,
	}, nil
}

// Address returns the wallet's identity.
func (s *KeystoreSigner) Address() models.Identity {
	return s.identity
}

// SignMessage signs the challenge with the EIP-191 personal message
// prefix, matching what the backend's verify endpoint expects.
func (s *KeystoreSigner) SignMessage(ctx context.Context, message string) (string, error) {
	digest := accounts.TextHash([]byte(message))
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge: %w", err)
	}
	// Recovery id offset per the eth_sign convention.
	signature[crypto.RecoveryIDOffset] += 27
	return "0x" + fmt.Sprintf("%x", signature), nil
}

// ChainID returns the chain the wallet currently acknowledges.
func (s *KeystoreSigner) ChainID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID
}

// SwitchChain acknowledges the requested chain. A local key signs for
// any chain, so the switch always succeeds.
func (s *KeystoreSigner) SwitchChain(ctx context.Context, chainID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != chainID {
		log.WithFields(log.Fields{
			"from": s.chainID,
			"to":   chainID,
		}).Info("Switching wallet chain")
		s.chainID = chainID
	}
	return nil
}

// PrivateKey exposes the key for transaction signing. Only the chain
// client uses it.
func (s *KeystoreSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}
