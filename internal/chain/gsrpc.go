package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	chainrpc "github.com/centrifuge/go-substrate-rpc-client/v4/rpc/chain"
	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"

	"substratescope/internal/ss58"
)

// knownCalls are the call names the connector needs to recognize when
// decoding extrinsics. The runtime's call indices for these are resolved from
// metadata at dial time; anything else is reported with a synthetic
// pallet_N.call_M name.
var knownCalls = []string{
	"Balances.transfer",
	"Balances.transfer_keep_alive",
	"Balances.transfer_allow_death",
	"Balances.transfer_all",
	"Timestamp.set",
}

// SubstrateClient implements Client on top of go-substrate-rpc-client.
type SubstrateClient struct {
	api       *gsrpc.SubstrateAPI
	meta      *types.Metadata
	network   uint16
	genesis   types.Hash
	callNames map[types.CallIndex]string
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to a node and loads its metadata. The returned client is
// ready for use; ownership passes to exactly one connection manager.
func Dial(ctx context.Context, url string, network uint16) (*SubstrateClient, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrConnectFailed, err)
	}
	genesis, err := api.RPC.Chain.GetBlockHash(0)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis hash: %v", ErrConnectFailed, err)
	}

	c := &SubstrateClient{
		api:       api,
		meta:      meta,
		network:   network,
		genesis:   genesis,
		callNames: make(map[types.CallIndex]string),
		closed:    make(chan struct{}),
	}
	for _, name := range knownCalls {
		idx, err := meta.FindCallIndex(name)
		if err != nil {
			// Runtime without this call (e.g. older Balances pallet).
			continue
		}
		c.callNames[idx] = strings.ToLower(name)
	}
	return c, nil
}

func (c *SubstrateClient) Ping(ctx context.Context) error {
	var health struct {
		Peers     int  `json:"peers"`
		IsSyncing bool `json:"isSyncing"`
	}
	if err := c.api.Client.Call(&health, "system_health"); err != nil {
		return err
	}
	return nil
}

// WatchConnectivity rides a new-heads subscription: a subscription error is a
// drop, a successful resubscribe after pinging is a recovery.
func (c *SubstrateClient) WatchConnectivity(ctx context.Context) (<-chan bool, error) {
	sub, err := c.api.RPC.Chain.SubscribeNewHeads()
	if err != nil {
		return nil, err
	}

	out := make(chan bool, 4)
	go func() {
		defer close(out)
		current := sub
		for {
			select {
			case <-c.closed:
				current.Unsubscribe()
				return
			case <-ctx.Done():
				current.Unsubscribe()
				return
			case _, ok := <-current.Chan():
				if ok {
					continue
				}
				out <- false
				next, rerr := c.reestablishHeads(ctx)
				if rerr != nil {
					return
				}
				current = next
				out <- true
			case <-current.Err():
				out <- false
				next, rerr := c.reestablishHeads(ctx)
				if rerr != nil {
					return
				}
				current = next
				out <- true
			}
		}
	}()
	return out, nil
}

func (c *SubstrateClient) reestablishHeads(ctx context.Context) (*chainrpc.NewHeadsSubscription, error) {
	for {
		select {
		case <-c.closed:
			return nil, errors.New("client closed")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
		if err := c.Ping(ctx); err != nil {
			continue
		}
		sub, err := c.api.RPC.Chain.SubscribeNewHeads()
		if err != nil {
			continue
		}
		return sub, nil
	}
}

func (c *SubstrateClient) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *SubstrateClient) LatestNumber(ctx context.Context) (uint64, error) {
	header, err := c.api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return 0, err
	}
	return uint64(header.Number), nil
}

func (c *SubstrateClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	latest, err := c.LatestNumber(ctx)
	if err != nil {
		return nil, err
	}
	if number > latest {
		return nil, nil
	}
	hash, err := c.api.RPC.Chain.GetBlockHash(number)
	if err != nil {
		return nil, err
	}
	return c.fetchBlock(hash)
}

func (c *SubstrateClient) BlockByHash(ctx context.Context, hashHex string) (*Block, error) {
	hash, err := types.NewHashFromHexString(hashHex)
	if err != nil {
		return nil, nil
	}
	return c.fetchBlock(hash)
}

func (c *SubstrateClient) fetchBlock(hash types.Hash) (*Block, error) {
	signed, err := c.api.RPC.Chain.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if signed == nil {
		return nil, nil
	}

	blk := &Block{
		Number:     uint64(signed.Block.Header.Number),
		Hash:       hash.Hex(),
		ParentHash: signed.Block.Header.ParentHash.Hex(),
	}
	for _, ext := range signed.Block.Extrinsics {
		decoded, err := c.decodeExtrinsic(ext, blk)
		if err != nil {
			// A single undecodable extrinsic must not void the block view.
			continue
		}
		if decoded.Section == "timestamp" && decoded.Method == "set" {
			if ms, ok := decodeTimestampArg(ext.Method.Args); ok {
				blk.Timestamp = time.UnixMilli(ms).UTC()
			}
		}
		blk.Extrinsics = append(blk.Extrinsics, decoded)
	}
	return blk, nil
}

func (c *SubstrateClient) decodeExtrinsic(ext types.Extrinsic, blk *Block) (Extrinsic, error) {
	enc, err := codec.Encode(ext)
	if err != nil {
		return Extrinsic{}, err
	}
	sum := blake2b.Sum256(enc)

	out := Extrinsic{
		Hash:        "0x" + hex.EncodeToString(sum[:]),
		BlockNumber: blk.Number,
		BlockHash:   blk.Hash,
		Tip:         new(big.Int),
	}

	if name, ok := c.callNames[ext.Method.CallIndex]; ok {
		parts := strings.SplitN(name, ".", 2)
		out.Section, out.Method = parts[0], parts[1]
	} else {
		out.Section = fmt.Sprintf("pallet_%d", ext.Method.CallIndex.SectionIndex)
		out.Method = fmt.Sprintf("call_%d", ext.Method.CallIndex.MethodIndex)
	}

	if ext.IsSigned() {
		out.IsSigned = true
		out.Nonce = uint64(ext.Signature.Nonce.Int64())
		out.Tip = ucompactBig(ext.Signature.Tip)
		addr, err := ss58.Encode(ext.Signature.Signer.AsID.ToBytes(), c.network)
		if err == nil {
			out.Signer = addr
		}
	}

	if IsTransferCall(out.Section, out.Method) {
		// transfer_all carries (dest, keep_alive), not an amount.
		withAmount := out.Method != "transfer_all"
		dest, amount, err := decodeTransferArgs(ext.Method.Args, withAmount)
		if err == nil {
			if addr, aerr := ss58.Encode(dest, c.network); aerr == nil {
				out.Dest = addr
			}
			out.Amount = amount
		}
	}
	return out, nil
}

func decodeTransferArgs(args types.Args, withAmount bool) (dest []byte, amount *big.Int, err error) {
	dec := scale.NewDecoder(bytes.NewReader(args))
	var target types.MultiAddress
	if err := dec.Decode(&target); err != nil {
		return nil, nil, err
	}
	if !target.IsID {
		return nil, nil, errors.New("non-account destination")
	}
	if !withAmount {
		return target.AsID.ToBytes(), nil, nil
	}
	var value types.UCompact
	if err := dec.Decode(&value); err != nil {
		return nil, nil, err
	}
	return target.AsID.ToBytes(), ucompactBig(value), nil
}

func ucompactBig(u types.UCompact) *big.Int {
	return new(big.Int).Set((*big.Int)(&u))
}

func decodeTimestampArg(args types.Args) (int64, bool) {
	dec := scale.NewDecoder(bytes.NewReader(args))
	var moment types.UCompact
	if err := dec.Decode(&moment); err != nil {
		return 0, false
	}
	return moment.Int64(), true
}

func (c *SubstrateClient) AccountInfo(ctx context.Context, address string) (*BalanceEntry, error) {
	_, pub, err := ss58.Decode(address)
	if err != nil {
		return nil, err
	}
	key, err := types.CreateStorageKey(c.meta, "System", "Account", pub)
	if err != nil {
		return nil, err
	}
	var info types.AccountInfo
	ok, err := c.api.RPC.State.GetStorageLatest(key, &info)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &BalanceEntry{
		Address: address,
		Free:    new(big.Int).Set(info.Data.Free.Int),
		Nonce:   uint64(info.Nonce),
	}, nil
}

func (c *SubstrateClient) AccountBalances(ctx context.Context) ([]BalanceEntry, error) {
	// Without a map argument the storage key is the bare prefix of the map.
	prefix, err := types.CreateStorageKey(c.meta, "System", "Account")
	if err != nil {
		return nil, err
	}
	keys, err := c.api.RPC.State.GetKeysLatest(prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	sets, err := c.api.RPC.State.QueryStorageAtLatest(keys)
	if err != nil {
		return nil, err
	}

	var out []BalanceEntry
	for _, set := range sets {
		for _, change := range set.Changes {
			if !change.HasStorageData {
				continue
			}
			var info types.AccountInfo
			if err := codec.Decode(change.StorageData, &info); err != nil {
				continue
			}
			// System.Account keys end with the raw 32-byte account id.
			raw := []byte(change.StorageKey)
			if len(raw) < 32 {
				continue
			}
			addr, err := ss58.Encode(raw[len(raw)-32:], c.network)
			if err != nil {
				continue
			}
			out = append(out, BalanceEntry{
				Address: addr,
				Free:    new(big.Int).Set(info.Data.Free.Int),
				Nonce:   uint64(info.Nonce),
			})
		}
	}
	return out, nil
}

func (c *SubstrateClient) SessionValidators(ctx context.Context) ([]string, error) {
	key, err := types.CreateStorageKey(c.meta, "Session", "Validators")
	if err != nil {
		return nil, err
	}
	var ids []types.AccountID
	ok, err := c.api.RPC.State.GetStorageLatest(key, &ids)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		addr, err := ss58.Encode(id.ToBytes(), c.network)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

type activeEraInfo struct {
	Index types.U32
	Start types.OptionU64
}

func (c *SubstrateClient) ActiveEra(ctx context.Context) (uint32, error) {
	key, err := types.CreateStorageKey(c.meta, "Staking", "ActiveEra")
	if err != nil {
		return 0, err
	}
	var era activeEraInfo
	ok, err := c.api.RPC.State.GetStorageLatest(key, &era)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("active era not set")
	}
	return uint32(era.Index), nil
}

// Staking exposure, compact-encoded in the runtime.
type exposure struct {
	Total  types.UCompact
	Own    types.UCompact
	Others []individualExposure
}

type individualExposure struct {
	Who   types.AccountID
	Value types.UCompact
}

func (c *SubstrateClient) ValidatorExposure(ctx context.Context, era uint32, address string) (*Exposure, error) {
	_, pub, err := ss58.Decode(address)
	if err != nil {
		return nil, err
	}
	eraArg, err := codec.Encode(types.NewU32(era))
	if err != nil {
		return nil, err
	}
	key, err := types.CreateStorageKey(c.meta, "Staking", "ErasStakers", eraArg, pub)
	if err != nil {
		return nil, err
	}
	var exp exposure
	ok, err := c.api.RPC.State.GetStorageLatest(key, &exp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Exposure{Total: new(big.Int), Own: new(big.Int)}, nil
	}
	return &Exposure{
		Total:          ucompactBig(exp.Total),
		Own:            ucompactBig(exp.Own),
		NominatorCount: len(exp.Others),
	}, nil
}

type validatorPrefs struct {
	Commission types.UCompact
	Blocked    types.Bool
}

func (c *SubstrateClient) ValidatorPrefs(ctx context.Context, address string) (uint32, error) {
	_, pub, err := ss58.Decode(address)
	if err != nil {
		return 0, err
	}
	key, err := types.CreateStorageKey(c.meta, "Staking", "Validators", pub)
	if err != nil {
		return 0, err
	}
	var prefs validatorPrefs
	ok, err := c.api.RPC.State.GetStorageLatest(key, &prefs)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return uint32(prefs.Commission.Int64()), nil
}

func (c *SubstrateClient) AuthoredBlocks(ctx context.Context, era uint32, address string) (uint32, bool, error) {
	_, pub, err := ss58.Decode(address)
	if err != nil {
		return 0, false, err
	}
	eraArg, err := codec.Encode(types.NewU32(era))
	if err != nil {
		return 0, false, err
	}
	key, err := types.CreateStorageKey(c.meta, "ImOnline", "AuthoredBlocks", eraArg, pub)
	if err != nil {
		// Pallet absent on this runtime: degrade, do not fail the entry.
		return 0, false, nil
	}
	var count types.U32
	ok, err := c.api.RPC.State.GetStorageLatest(key, &count)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, true, nil
	}
	return uint32(count), true, nil
}

func (c *SubstrateClient) buildCall(call Call) (types.Call, error) {
	if !IsTransferCall(call.Section, call.Method) {
		return types.Call{}, fmt.Errorf("unsupported call %s.%s", call.Section, call.Method)
	}
	name := strings.ToUpper(call.Section[:1]) + call.Section[1:] + "." + call.Method
	_, destPub, err := ss58.Decode(call.Dest)
	if err != nil {
		return types.Call{}, fmt.Errorf("bad destination: %w", err)
	}
	dest, err := types.NewMultiAddressFromAccountID(destPub)
	if err != nil {
		return types.Call{}, err
	}
	return types.NewCall(c.meta, name, dest, types.NewUCompact(call.Amount))
}

func (c *SubstrateClient) EstimateFee(ctx context.Context, call Call, sender string) (FeeInfo, error) {
	runtimeCall, err := c.buildCall(call)
	if err != nil {
		return FeeInfo{}, err
	}
	ext := types.NewExtrinsic(runtimeCall)
	enc, err := codec.EncodeToHex(ext)
	if err != nil {
		return FeeInfo{}, err
	}

	var info struct {
		Weight struct {
			RefTime uint64 `json:"ref_time"`
		} `json:"weight"`
		PartialFee string `json:"partialFee"`
	}
	if err := c.api.Client.Call(&info, "payment_queryInfo", enc); err != nil {
		return FeeInfo{}, err
	}
	fee, ok := new(big.Int).SetString(info.PartialFee, 10)
	if !ok {
		return FeeInfo{}, fmt.Errorf("unparseable partial fee %q", info.PartialFee)
	}
	return FeeInfo{PartialFee: fee, Weight: info.Weight.RefTime}, nil
}

func (c *SubstrateClient) SubmitAndWatch(ctx context.Context, call Call, signer Signer) (<-chan SubmissionStatus, error) {
	uri, err := signer.SecretURI()
	if err != nil {
		return nil, err
	}
	pair, err := signature.KeyringPairFromSecret(uri, c.network)
	if err != nil {
		return nil, err
	}

	runtimeCall, err := c.buildCall(call)
	if err != nil {
		return nil, err
	}

	rv, err := c.api.RPC.State.GetRuntimeVersionLatest()
	if err != nil {
		return nil, err
	}
	sender, err := c.AccountInfo(ctx, signer.Address())
	if err != nil {
		return nil, err
	}
	var nonce uint64
	if sender != nil {
		nonce = sender.Nonce
	}

	ext := types.NewExtrinsic(runtimeCall)
	opts := types.SignatureOptions{
		BlockHash:          c.genesis,
		Era:                types.ExtrinsicEra{IsImmortalEra: true},
		GenesisHash:        c.genesis,
		Nonce:              types.NewUCompactFromUInt(nonce),
		SpecVersion:        rv.SpecVersion,
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: rv.TransactionVersion,
	}
	if err := ext.Sign(pair, opts); err != nil {
		return nil, err
	}

	encoded, err := codec.Encode(ext)
	if err != nil {
		return nil, err
	}
	extHash := blake2b.Sum256(encoded)

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(ext)
	if err != nil {
		return nil, err
	}

	out := make(chan SubmissionStatus, 8)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case status, ok := <-sub.Chan():
				if !ok {
					return
				}
				mapped, terminal := c.mapStatus(status, extHash)
				out <- mapped
				if terminal {
					return
				}
			case <-sub.Err():
				out <- SubmissionStatus{Phase: PhaseDropped}
				return
			}
		}
	}()
	return out, nil
}

func (c *SubstrateClient) mapStatus(status types.ExtrinsicStatus, extHash [32]byte) (SubmissionStatus, bool) {
	switch {
	case status.IsInBlock:
		return SubmissionStatus{Phase: PhaseInBlock, BlockHash: status.AsInBlock.Hex()}, false
	case status.IsRetracted:
		return SubmissionStatus{Phase: PhaseRetracted, BlockHash: status.AsRetracted.Hex()}, false
	case status.IsFinalized:
		st := SubmissionStatus{Phase: PhaseFinalized, BlockHash: status.AsFinalized.Hex()}
		st.ModuleErr = c.failureInBlock(status.AsFinalized, extHash)
		return st, true
	case status.IsDropped:
		return SubmissionStatus{Phase: PhaseDropped}, true
	case status.IsInvalid:
		return SubmissionStatus{Phase: PhaseInvalid}, true
	case status.IsUsurped:
		return SubmissionStatus{Phase: PhaseUsurped}, true
	default:
		return SubmissionStatus{Phase: PhaseBroadcast}, false
	}
}

// failureInBlock checks whether our extrinsic dispatched a module error in
// the given block by locating it in the block body and matching the
// ExtrinsicFailed event at the same index.
func (c *SubstrateClient) failureInBlock(blockHash types.Hash, extHash [32]byte) *RawModuleError {
	signed, err := c.api.RPC.Chain.GetBlock(blockHash)
	if err != nil || signed == nil {
		return nil
	}
	index := -1
	for i, ext := range signed.Block.Extrinsics {
		enc, err := codec.Encode(ext)
		if err != nil {
			continue
		}
		if blake2b.Sum256(enc) == extHash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil
	}

	key, err := types.CreateStorageKey(c.meta, "System", "Events")
	if err != nil {
		return nil
	}
	raw, err := c.api.RPC.State.GetStorageRaw(key, blockHash)
	if err != nil || raw == nil {
		return nil
	}
	var events types.EventRecords
	if err := types.EventRecordsRaw(*raw).DecodeEventRecords(c.meta, &events); err != nil {
		return nil
	}
	for _, failed := range events.System_ExtrinsicFailed {
		if !failed.Phase.IsApplyExtrinsic || int(failed.Phase.AsApplyExtrinsic) != index {
			continue
		}
		if failed.DispatchError.IsModule {
			return &RawModuleError{
				Module: uint8(failed.DispatchError.ModuleError.Index),
				Error:  uint8(failed.DispatchError.ModuleError.Error[0]),
			}
		}
	}
	return nil
}

func (c *SubstrateClient) DecodeModuleError(raw RawModuleError) (*DispatchError, error) {
	if c.meta == nil || c.meta.Version != 14 {
		return nil, errors.New("metadata unavailable for error decoding")
	}
	for _, pallet := range c.meta.AsMetadataV14.Pallets {
		if uint8(pallet.Index) != raw.Module || !pallet.HasErrors {
			continue
		}
		typ, ok := c.meta.AsMetadataV14.EfficientLookup[pallet.Errors.Type.Int64()]
		if !ok || !typ.Def.IsVariant {
			break
		}
		for _, variant := range typ.Def.Variant.Variants {
			if uint8(variant.Index) != raw.Error {
				continue
			}
			docs := make([]string, 0, len(variant.Docs))
			for _, d := range variant.Docs {
				docs = append(docs, string(d))
			}
			return &DispatchError{
				Section: string(pallet.Name),
				Name:    string(variant.Name),
				Docs:    strings.TrimSpace(strings.Join(docs, " ")),
			}, nil
		}
	}
	return nil, fmt.Errorf("module error %d/%d not found in metadata", raw.Module, raw.Error)
}
