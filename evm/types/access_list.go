package types

// AccessTuple is a single EIP-2930 access list entry: an address plus the
// storage slots within it that should be pre-warmed.
type AccessTuple struct {
	Address     Address `json:"address"`
	StorageKeys []Hash  `json:"storageKeys"`
}

// AccessList is an EIP-2930 access list, carried by AccessListTx, DynamicFeeTx
// and later transaction types, and by the EIP-2930 transaction envelope
// consumed by the invoker's transaction entry point.
type AccessList []AccessTuple

// AuthMagic is the MAGIC byte prefixed to the EIP-7702 authorization digest:
// keccak256(MAGIC || rlp([chain_id, address, nonce])).
const AuthMagic = 0x05

// VersionedHashVersionKZG is the version byte of an EIP-4844 versioned hash
// derived from a KZG commitment.
const VersionedHashVersionKZG = 0x01
