package objstore

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ComputeID returns the CIDv1 (raw + sha2-256) object id for data.
func ComputeID(data []byte) (ID, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ComputeIDString returns ComputeID's result rendered as a multibase string.
func ComputeIDString(data []byte) string {
	id, err := ComputeID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// ParseID parses a multibase-encoded object id string.
func ParseID(s string) (ID, error) {
	return cid.Decode(s)
}
