package main

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key from the web3 documentation.
const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestWalletSigner_Address(t *testing.T) {
	for _, key := range []string{testPrivateKey, "0x" + testPrivateKey, "  0X" + testPrivateKey + "\n"} {
		s, err := newWalletSigner(key)
		require.NoError(t, err)
		require.True(t, strings.EqualFold(testWallet, s.Address()), "got %s", s.Address())
		require.True(t, strings.HasPrefix(s.Address(), "0x"))
	}
}

func TestWalletSigner_InvalidKey(t *testing.T) {
	_, err := newWalletSigner("not-a-key")
	require.Error(t, err)

	_, err = newWalletSigner(strings.Repeat("0", 64))
	require.Error(t, err, "zero is not a valid secp256k1 scalar")
}

func TestWalletSigner_SignRecoversAddress(t *testing.T) {
	s, err := newWalletSigner(testPrivateKey)
	require.NoError(t, err)

	msg := whitelistMessage(defaultScheme, s.Address(), "")
	sigHex, err := s.Sign(msg)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sigHex, "0x"))

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	v := sig[crypto.RecoveryIDOffset]
	require.Contains(t, []byte{27, 28}, v)

	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	require.NoError(t, err)
	require.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())

	// Deterministic (RFC 6979) signatures.
	again, err := s.Sign(msg)
	require.NoError(t, err)
	require.Equal(t, sigHex, again)

	other, err := s.Sign(msg + " ")
	require.NoError(t, err)
	require.NotEqual(t, sigHex, other)
}

func TestWhitelistMessage(t *testing.T) {
	require.Equal(t, "BLOKS Whitelist Mint: 0xabc", whitelistMessage("BLOKS", "0xabc", ""))
	require.Equal(t, "ACME Whitelist Mint: 0xabc", whitelistMessage("ACME", "0xabc", ""))
	require.Equal(t, "custom text", whitelistMessage("BLOKS", "0xabc", "custom text"))
}
