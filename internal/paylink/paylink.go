// Package paylink builds EIP-681 payment request URIs for EVM chains.
package paylink

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
)

const (
	DefaultDecimals = 18

	scheme       = "ethereum:"
	metamaskBase = "https://metamask.app.link/send/pay-"
)

// Encoder turns an amount of the native asset into a transfer URI.
type Encoder struct {
	// Decimals is the number of base-unit places of the asset (18 for wei).
	Decimals int32
}

func (e Encoder) decimals() int32 {
	if e.Decimals <= 0 {
		return DefaultDecimals
	}
	return e.Decimals
}

// BaseUnits converts amount to an integer count of base units, truncating
// anything finer than one base unit.
func (e Encoder) BaseUnits(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	units := amount.Shift(e.decimals()).Truncate(0)
	if units.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s is below one base unit", ErrInvalidAmount, amount)
	}
	return units, nil
}

// Encode returns ethereum:<address>@<chainID>?value=<base units>. The
// address is emitted in checksummed form.
func (e Encoder) Encode(address string, amount decimal.Decimal, chainID int64) (string, error) {
	addr, err := Checksum(address)
	if err != nil {
		return "", err
	}
	if chainID <= 0 {
		return "", fmt.Errorf("invalid chain id %d", chainID)
	}
	units, err := e.BaseUnits(amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s@%d?value=%s", scheme, addr, chainID, units.String()), nil
}

// MetaMaskLink rewrites a URI produced by Encode into the universal link
// that opens the MetaMask mobile app on the same transfer. The target keeps
// the EIP-681 "pay-" prefix.
func MetaMaskLink(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, scheme)
	if !ok || !strings.Contains(rest, "@") {
		return "", fmt.Errorf("not a payment uri: %q", uri)
	}
	return metamaskBase + rest, nil
}

// ValidateAddress accepts 0x-prefixed 20-byte hex addresses. All-lowercase
// and all-uppercase forms are taken as-is; mixed case must carry a valid
// EIP-55 checksum.
func ValidateAddress(address string) error {
	_, err := Checksum(address)
	return err
}

// Checksum validates address and returns its EIP-55 form.
func Checksum(address string) (string, error) {
	address = strings.TrimSpace(address)
	if len(address) != 42 || !(strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X")) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	body := address[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	sum := eip55(strings.ToLower(body))
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && body != sum {
		return "", fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, address)
	}
	return "0x" + sum, nil
}

func eip55(lower string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
