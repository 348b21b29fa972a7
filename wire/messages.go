package wire

// peerAdWire is the CBOR-framed form of replicate.PeerAd.
type peerAdWire struct {
	IdentityTip  string `cbor:"1,keyasint"`
	RefsManifest []byte `cbor:"2,keyasint"`
	RefsTrailer  string `cbor:"3,keyasint"`
}

// peekResponseWire is the CBOR-framed form of replicate.PeekResult.
type peekResponseWire struct {
	Peers map[string]peerAdWire `cbor:"1,keyasint"`
}

// pushRequestWire is the CBOR-framed form of one PushService call:
// spec.md §6's update-request-list-plus-packfile, flattened into a
// single message the way canon.CBOR framing replaces pkt-lines
// throughout this transport.
type pushRequestWire struct {
	URN          string            `cbor:"1,keyasint"`
	Peer         string            `cbor:"2,keyasint"`
	RefsManifest []byte            `cbor:"3,keyasint"`
	RefsTrailer  string            `cbor:"4,keyasint"`
	Objects      map[string][]byte `cbor:"5,keyasint"`
	IdentityTip  string            `cbor:"6,keyasint"`
}

// pushResponseWire is the CBOR-framed form of spec.md §6's status-report:
// per-ref ok/ng lines as Accepted/Reasons, or a whole-request ERR as Err.
type pushResponseWire struct {
	Accepted map[string]bool   `cbor:"1,keyasint"`
	Reasons  map[string]string `cbor:"2,keyasint"`
	Err      string            `cbor:"3,keyasint"`
}
