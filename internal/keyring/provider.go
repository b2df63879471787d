// Package keyring manages accounts: local generation and import from a
// recovery phrase, and bridging to an externally injected wallet extension.
package keyring

import (
	"context"
	"errors"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	gocache "github.com/patrickmn/go-cache"
	bip39 "github.com/tyler-smith/go-bip39"

	"substratescope/internal/chain"
)

var (
	ErrInvalidPhrase     = errors.New("invalid recovery phrase")
	ErrWalletUnavailable = errors.New("wallet extension unavailable")
	ErrNoAccounts        = errors.New("wallet extension has no accounts")
	ErrNotExportable     = errors.New("account is not exportable")
	ErrNotFound          = errors.New("account not found")
)

type Origin int

const (
	OriginLocal Origin = iota
	OriginImported
	OriginExternalWallet
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginImported:
		return "imported"
	}
	return "external-wallet"
}

// Account is an address with, for local and imported origins, the phrase it
// was derived from. External-wallet accounts never carry key material.
type Account struct {
	address   string
	publicKey []byte
	origin    Origin
	phrase    string
}

func (a *Account) Address() string   { return a.address }
func (a *Account) PublicKey() []byte { return a.publicKey }
func (a *Account) Origin() Origin    { return a.origin }

// SecretURI satisfies chain.Signer. External-wallet accounts cannot sign
// through the local client.
func (a *Account) SecretURI() (string, error) {
	if a.origin == OriginExternalWallet {
		return "", chain.ErrNotSignable
	}
	return a.phrase, nil
}

// ExportedAccount is the result of Export: address plus recovery phrase.
type ExportedAccount struct {
	Address string
	Phrase  string
}

// WalletExtension is the injected external-wallet capability. Its absence
// (nil) must stay distinguishable from "present but empty".
type WalletExtension interface {
	Enable(ctx context.Context, appName string) error
	Accounts(ctx context.Context) ([]WalletAccount, error)
}

type WalletAccount struct {
	Address   string
	PublicKey []byte
	Name      string
}

// Provider derives and caches accounts. The cache is keyed by address and
// entries are never overwritten: re-importing a phrase is a no-op that
// returns the existing entry.
type Provider struct {
	network uint16
	wallet  WalletExtension
	cache   *gocache.Cache
}

// NewProvider builds a provider for the given SS58 network prefix. wallet
// may be nil when no extension is injected.
func NewProvider(network uint16, wallet WalletExtension) *Provider {
	return &Provider{
		network: network,
		wallet:  wallet,
		cache:   gocache.New(gocache.NoExpiration, 0),
	}
}

// Generate creates a fresh mnemonic and derives an account from it. An
// optional passphrase hardens the derivation path.
func (p *Provider) Generate(passphrase string) (*Account, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, err
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, err
	}
	return p.derive(phrase, passphrase, OriginLocal)
}

// Import derives an account from an existing phrase. The phrase is validated
// before any derivation work.
func (p *Provider) Import(phrase string) (*Account, error) {
	phrase = normalizePhrase(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidPhrase
	}
	return p.derive(phrase, "", OriginImported)
}

func (p *Provider) derive(phrase, passphrase string, origin Origin) (*Account, error) {
	uri := phrase
	if passphrase != "" {
		uri = phrase + "///" + passphrase
	}
	pair, err := signature.KeyringPairFromSecret(uri, p.network)
	if err != nil {
		return nil, ErrInvalidPhrase
	}

	if cached, ok := p.cache.Get(pair.Address); ok {
		return cached.(*Account), nil
	}
	acct := &Account{
		address:   pair.Address,
		publicKey: pair.PublicKey,
		origin:    origin,
		phrase:    uri,
	}
	p.cache.Set(pair.Address, acct, gocache.NoExpiration)
	return acct, nil
}

// ConnectExternalWallet enables the injected extension and imports its
// accounts. A missing extension and an empty one are different failures: the
// remediation differs (install vs. create an account).
func (p *Provider) ConnectExternalWallet(ctx context.Context, appName string) ([]*Account, error) {
	if p.wallet == nil {
		return nil, ErrWalletUnavailable
	}
	if err := p.wallet.Enable(ctx, appName); err != nil {
		return nil, ErrWalletUnavailable
	}
	list, err := p.wallet.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoAccounts
	}

	out := make([]*Account, 0, len(list))
	for _, wa := range list {
		if cached, ok := p.cache.Get(wa.Address); ok {
			out = append(out, cached.(*Account))
			continue
		}
		acct := &Account{
			address:   wa.Address,
			publicKey: wa.PublicKey,
			origin:    OriginExternalWallet,
		}
		p.cache.Set(wa.Address, acct, gocache.NoExpiration)
		out = append(out, acct)
	}
	return out, nil
}

// Export returns the recovery phrase for a local or imported account.
// External-wallet accounts fail with ErrNotExportable, never an empty result.
func (p *Provider) Export(address string) (ExportedAccount, error) {
	cached, ok := p.cache.Get(address)
	if !ok {
		return ExportedAccount{}, ErrNotFound
	}
	acct := cached.(*Account)
	if acct.origin == OriginExternalWallet {
		return ExportedAccount{}, ErrNotExportable
	}
	return ExportedAccount{Address: acct.address, Phrase: acct.phrase}, nil
}

func (p *Provider) Get(address string) (*Account, error) {
	cached, ok := p.cache.Get(address)
	if !ok {
		return nil, ErrNotFound
	}
	return cached.(*Account), nil
}

func (p *Provider) Accounts() []*Account {
	items := p.cache.Items()
	out := make([]*Account, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*Account))
	}
	return out
}

func normalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
