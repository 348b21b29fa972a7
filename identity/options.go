package identity

import (
	"fmt"

	"github.com/octofork/radlink/errtax"
	"github.com/octofork/radlink/objstore"
)

// ComplianceMode selects how aggressively Verify rejects ambiguity,
// grounded on the teacher's compliance.ComplianceMode.
//
// Permissive (the zero value) returns whatever Verify returns. Strict
// additionally rejects any result whose State is not Verified. Verify
// itself only ever returns a Verified result or an error, so both modes
// give the same outcome.
type ComplianceMode int

const (
	Permissive ComplianceMode = iota
	Strict
)

// Options controls Verifier behavior.
type Options struct {
	Mode ComplianceMode
}

// VerifyWithOptions runs Verify and, in Strict mode, additionally
// requires the result to be State == Verified.
func (v *Verifier) VerifyWithOptions(tipAttestationID objstore.ID, opts Options) (Result, error) {
	res, err := v.Verify(tipAttestationID)
	if err != nil {
		return res, err
	}
	if opts.Mode == Strict && res.State != Verified {
		return res, errtax.New(errtax.NoQuorum, "IDENTITY-STRICT-NOT-VERIFIED", fmt.Sprintf("strict mode: expected Verified, got %s", res.State))
	}
	return res, nil
}
