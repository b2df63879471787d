package chain

// transferFamily is the fixed set of balance-moving calls. Matching is exact
// on section.method: prefix or substring matching would tag unrelated calls
// whose name merely contains "transfer".
var transferFamily = map[string]struct{}{
	"balances.transfer":             {},
	"balances.transfer_keep_alive":  {},
	"balances.transfer_allow_death": {},
	"balances.transfer_all":         {},
}

func IsTransferCall(section, method string) bool {
	_, ok := transferFamily[section+"."+method]
	return ok
}

func (e *Extrinsic) IsTransfer() bool {
	return IsTransferCall(e.Section, e.Method)
}
