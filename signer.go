package main

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

//go:generate mockgen -source=signer.go -destination=mock_signer_test.go -package=main

// signatureProvider signs personal messages on behalf of the minting wallet.
type signatureProvider interface {
	// Address returns the checksummed wallet address.
	Address() string
	// Sign returns a 0x-prefixed EIP-191 signature over the UTF-8 bytes of message.
	Sign(message string) (string, error)
}

// whitelistMessage returns the canonical whitelist message for wallet, or
// override verbatim when it is not empty.
func whitelistMessage(scheme, wallet, override string) string {
	if override != "" {
		return override
	}
	return fmt.Sprintf("%s Whitelist Mint: %s", scheme, wallet)
}

// walletSigner holds a secp256k1 key loaded from hex.
type walletSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newWalletSigner(hexKey string) (*walletSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return &walletSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *walletSigner) Address() string { return s.address.Hex() }

func (s *walletSigner) Sign(message string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	// Recovery id 0/1 becomes V 27/28, as personal_sign wallets emit it.
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
