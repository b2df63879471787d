package keyring

import (
	"context"
	"errors"
	"testing"

	"substratescope/internal/chain"
)

// Standard BIP-39 vector: all-zero entropy.
const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type fakeWallet struct {
	enableErr error
	accounts  []WalletAccount
}

func (w *fakeWallet) Enable(ctx context.Context, appName string) error {
	return w.enableErr
}

func (w *fakeWallet) Accounts(ctx context.Context) ([]WalletAccount, error) {
	return w.accounts, nil
}

func TestGenerateProducesExportableAccount(t *testing.T) {
	p := NewProvider(42, nil)
	acct, err := p.Generate("")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if acct.Address() == "" || len(acct.PublicKey()) != 32 {
		t.Fatalf("incomplete account: %+v", acct)
	}
	if acct.Origin() != OriginLocal {
		t.Fatalf("expected local origin, got %v", acct.Origin())
	}

	exported, err := p.Export(acct.Address())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.Phrase == "" {
		t.Fatal("exported phrase is empty")
	}
}

func TestImportIsDeterministicAndIdempotent(t *testing.T) {
	p := NewProvider(42, nil)
	first, err := p.Import(testPhrase)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	second, err := p.Import(testPhrase)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if first != second {
		t.Fatal("re-importing the same phrase must return the cached entry")
	}
	if first.Origin() != OriginImported {
		t.Fatalf("expected imported origin, got %v", first.Origin())
	}

	// Same phrase in a fresh provider derives the same address.
	other, err := NewProvider(42, nil).Import(testPhrase)
	if err != nil {
		t.Fatalf("import in fresh provider: %v", err)
	}
	if other.Address() != first.Address() {
		t.Fatalf("derivation not deterministic: %s vs %s", other.Address(), first.Address())
	}
}

func TestImportRejectsMalformedPhraseBeforeDerivation(t *testing.T) {
	p := NewProvider(42, nil)
	if _, err := p.Import("definitely not a valid recovery phrase"); !errors.Is(err, ErrInvalidPhrase) {
		t.Fatalf("expected ErrInvalidPhrase, got %v", err)
	}
	if _, err := p.Import(""); !errors.Is(err, ErrInvalidPhrase) {
		t.Fatalf("expected ErrInvalidPhrase for empty phrase, got %v", err)
	}
	if len(p.Accounts()) != 0 {
		t.Fatal("a rejected phrase must not leave a cached account behind")
	}
}

func TestConnectExternalWalletErrorKinds(t *testing.T) {
	// No capability injected at all.
	p := NewProvider(42, nil)
	if _, err := p.ConnectExternalWallet(context.Background(), "app"); !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}

	// Present but empty is a different failure with a different remedy.
	p = NewProvider(42, &fakeWallet{})
	if _, err := p.ConnectExternalWallet(context.Background(), "app"); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}
}

func TestExternalWalletAccountsAreNotExportable(t *testing.T) {
	wallet := &fakeWallet{accounts: []WalletAccount{
		{Address: "5ExternalAddr", PublicKey: make([]byte, 32), Name: "injected"},
	}}
	p := NewProvider(42, wallet)

	accounts, err := p.ConnectExternalWallet(context.Background(), "app")
	if err != nil {
		t.Fatalf("connect wallet: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Origin() != OriginExternalWallet {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}

	_, err = p.Export("5ExternalAddr")
	if !errors.Is(err, ErrNotExportable) {
		t.Fatalf("expected ErrNotExportable, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("NotExportable and NotFound must stay distinct kinds")
	}

	if _, err := accounts[0].SecretURI(); !errors.Is(err, chain.ErrNotSignable) {
		t.Fatalf("expected ErrNotSignable from SecretURI, got %v", err)
	}
}

func TestExportUnknownAddress(t *testing.T) {
	p := NewProvider(42, nil)
	_, err := p.Export("5Unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrNotExportable) {
		t.Fatal("NotFound and NotExportable must stay distinct kinds")
	}
}
