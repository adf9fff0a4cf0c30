package pubkey

// Well-known program and sysvar keys baked into the ledger.
var (
	// SystemProgram owns plain lamport accounts and creates new accounts.
	SystemProgram = MustParse("11111111111111111111111111111111")

	// TokenLegacy is the original token program.
	TokenLegacy = MustParse("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// TokenExtended is the extensions-capable token program. An asset is
	// governed by exactly one of TokenLegacy or TokenExtended, and a
	// transaction may only reference accounts of one of the two.
	TokenExtended = MustParse("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgram derives and creates per-owner-per-asset
	// holding accounts.
	AssociatedTokenProgram = MustParse("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// MetadataProgram owns off-ledger-URI metadata records for assets.
	MetadataProgram = MustParse("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// SysvarRent is the rent parameters sysvar referenced by
	// account-creating instructions.
	SysvarRent = MustParse("SysvarRent111111111111111111111111111111111")
)

// AssociatedTokenAddress derives the deterministic holding-account
// address for (owner, asset) under the given token program.
func AssociatedTokenAddress(owner, tokenProgram, asset PublicKey) (PublicKey, uint8, error) {
	return FindAddress([][]byte{owner[:], tokenProgram[:], asset[:]}, AssociatedTokenProgram)
}

// MetadataAddress derives the metadata record address for an asset.
func MetadataAddress(asset PublicKey) (PublicKey, uint8, error) {
	return FindAddress([][]byte{[]byte("metadata"), MetadataProgram[:], asset[:]}, MetadataProgram)
}
