package core

// Storage-deposit arithmetic. The external ledger requires every output to
// carry a minimum base-coin amount proportional to the output's virtual
// byte size; an output that falls short is unbroadcastable, so this
// calculation must be exact and deterministic.

// RentStructure is the ledger protocol's rent parameters. Virtual bytes are
// weighted: key fields count VBFactorKey times, data fields VBFactorData
// times.
type RentStructure struct {
	VByteCost    uint64
	VBFactorData uint64
	VBFactorKey  uint64
}

// DefaultRent mirrors the mainnet protocol parameters.
func DefaultRent() RentStructure {
	return RentStructure{
		VByteCost:    100,
		VBFactorData: 1,
		VBFactorKey:  10,
	}
}

// Serialized field sizes, in raw bytes, of the output anatomy this engine
// emits. Address keys are ed25519 address blocks; the remainder is data.
const (
	outputOverheadBytes      = 46
	addressUnlockBytes       = 33
	nativeTokenBytes         = 48
	storageReturnUnlockBytes = 38
	timelockUnlockBytes      = 9
)

// OutputSpec describes the payload of a single output for deposit purposes.
type OutputSpec struct {
	HasNativeToken   bool
	HasStorageReturn bool
	HasTimelock      bool
}

// MinDeposit returns the minimum base-coin amount the ledger requires an
// output with this payload to carry.
func (r RentStructure) MinDeposit(spec OutputSpec) uint64 {
	vbytes := outputOverheadBytes*r.VBFactorData + addressUnlockBytes*r.VBFactorKey
	if spec.HasNativeToken {
		vbytes += nativeTokenBytes * r.VBFactorData
	}
	if spec.HasStorageReturn {
		// The storage-return condition itself carries a return address.
		vbytes += storageReturnUnlockBytes*r.VBFactorData + addressUnlockBytes*r.VBFactorKey
	}
	if spec.HasTimelock {
		vbytes += timelockUnlockBytes * r.VBFactorData
	}
	return vbytes * r.VByteCost
}

// TokenOutputDeposit is the minimum deposit for the buyer-side output
// carrying purchased native tokens, with and without a storage-return
// condition attached.
func (r RentStructure) TokenOutputDeposit(fronted bool) uint64 {
	return r.MinDeposit(OutputSpec{HasNativeToken: true, HasStorageReturn: fronted})
}
