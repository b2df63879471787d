package chain

import "context"

// Signer provides the key material needed to sign a call. Accounts backed by
// an external wallet cannot produce a secret URI and return an error.
type Signer interface {
	Address() string
	SecretURI() (string, error)
}

// Client is the typed RPC capability over one endpoint. Implementations do
// not re-implement the wire encoding; the production client sits on
// go-substrate-rpc-client. A handle is owned by exactly one connection
// manager at a time.
type Client interface {
	// Ping verifies the node is reachable and ready.
	Ping(ctx context.Context) error
	// WatchConnectivity reports low-level drops (false) and spontaneous
	// recoveries (true). The channel closes when the client is closed.
	WatchConnectivity(ctx context.Context) (<-chan bool, error)
	Close()

	LatestNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (*Block, error)
	BlockByHash(ctx context.Context, hash string) (*Block, error)

	AccountInfo(ctx context.Context, address string) (*BalanceEntry, error)
	// AccountBalances enumerates the full balance table. Cost is proportional
	// to chain size; acceptable on small and test networks only.
	AccountBalances(ctx context.Context) ([]BalanceEntry, error)

	SessionValidators(ctx context.Context) ([]string, error)
	ActiveEra(ctx context.Context) (uint32, error)
	ValidatorExposure(ctx context.Context, era uint32, address string) (*Exposure, error)
	ValidatorPrefs(ctx context.Context, address string) (commissionPerbill uint32, err error)
	// AuthoredBlocks returns known=false when the source pallet is absent.
	AuthoredBlocks(ctx context.Context, era uint32, address string) (count uint32, known bool, err error)

	EstimateFee(ctx context.Context, call Call, sender string) (FeeInfo, error)
	// SubmitAndWatch signs and submits the call and streams inclusion events
	// until a terminal phase. The channel closes after the terminal event.
	SubmitAndWatch(ctx context.Context, call Call, signer Signer) (<-chan SubmissionStatus, error)

	DecodeModuleError(raw RawModuleError) (*DispatchError, error)
}
