package store

// Key prefixes. Each logical collection from the persisted-state layout
// lives under its own single-byte-discriminated prefix.
var (
	userPrefix    = []byte("u:") // userPrefix + userID -> user record
	bankPrefix    = []byte("b:") // bankPrefix + bankID -> bank record
	addressPrefix = []byte("a:") // addressPrefix + address -> address record
	entryPrefix   = []byte("t:") // entryPrefix + hash value -> chain entry
	plaidPrefix   = []byte("p:") // plaidPrefix + transactionID -> audit record
	runPrefix     = []byte("r:") // runPrefix + process name -> run record
)

func userKey(id string) []byte {
	return append(append([]byte{}, userPrefix...), id...)
}

func bankKey(id string) []byte {
	return append(append([]byte{}, bankPrefix...), id...)
}

func addressKey(address string) []byte {
	return append(append([]byte{}, addressPrefix...), address...)
}

func entryKey(hashValue string) []byte {
	return append(append([]byte{}, entryPrefix...), hashValue...)
}

func plaidKey(transactionID string) []byte {
	return append(append([]byte{}, plaidPrefix...), transactionID...)
}

func runKey(process string) []byte {
	return append(append([]byte{}, runPrefix...), process...)
}
