package replicate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/octofork/radlink/identity"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/fsstore"
	"github.com/octofork/radlink/peerid"
	"github.com/octofork/radlink/sigkit"
	"github.com/octofork/radlink/signedrefs"
	"github.com/octofork/radlink/tracking"
	"github.com/octofork/radlink/urn"
)

type keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return keypair{pub: pub, priv: priv}
}

func (k keypair) multibase(t *testing.T) string {
	t.Helper()
	id, err := peerid.FromPublicKey(k.pub)
	if err != nil {
		t.Fatal(err)
	}
	return id.String()
}

func (k keypair) sign(message []byte) (string, error) {
	return sigkit.SignTrailer(k.priv, message)
}

// singleDelegateProject builds a one-delegate project identity document
// and its founding attestation, signed by k, and returns the
// attestation's content address (the URN-defining revision).
func singleDelegateProject(t *testing.T, store objstore.Store, k keypair) objstore.ID {
	return singleDelegateProjectNamed(t, store, k, "example")
}

// singleDelegateProjectNamed is singleDelegateProject with an explicit
// project name, so callers needing two founding documents with no
// shared ancestry (e.g. a sibling-fork scenario) get distinct content
// addresses.
func singleDelegateProjectNamed(t *testing.T, store objstore.Store, k keypair, name string) objstore.ID {
	t.Helper()
	payload, err := identity.ProjectPayload(map[string]any{"name": name})
	if err != nil {
		t.Fatal(err)
	}
	doc := identity.Document{
		Payload:     payload,
		Delegations: []identity.Delegate{{PublicKey: k.multibase(t)}},
	}
	docBytes, docID, err := identity.EncodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(docBytes); err != nil {
		t.Fatal(err)
	}

	att := identity.Attestation{Root: docID, Revision: docID}
	att.Signatures = []identity.Sig{identity.SignAttestation(att, k.multibase(t), func(msg []byte) []byte {
		return sigkit.Sign(k.priv, msg)
	})}
	attBytes, attID, err := identity.EncodeAttestation(att)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(attBytes); err != nil {
		t.Fatal(err)
	}
	return attID
}

func signManifest(t *testing.T, m signedrefs.Manifest, k keypair) signedrefs.Signed {
	t.Helper()
	signed, err := signedrefs.Sign(m, k.multibase(t), k.sign)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

type fakeTransport struct {
	peek    PeekResult
	objects map[objstore.ID][]byte
}

func (f *fakeTransport) Peek(ctx context.Context, t Target) (PeekResult, error) {
	return f.peek, nil
}

func (f *fakeTransport) Fetch(ctx context.Context, t Target, ids []objstore.ID) (map[objstore.ID][]byte, error) {
	out := make(map[objstore.ID][]byte)
	for _, id := range ids {
		if b, ok := f.objects[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func (f *fakeTransport) Push(ctx context.Context, t Target, update PushUpdate) (PushResult, error) {
	return PushResult{}, nil
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	blobs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	refs, err := fsstore.NewRefs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Engine{
		Local:     blobs,
		LocalRefs: refs,
		Verifier:  identity.NewVerifier(blobs),
		Tracking:  &tracking.Store{Blobs: blobs, Refs: refs},
	}
}

var testURN = urn.URN("rad:ztest0000000000000000000000000000000")

// TestRun_Clone exercises spec.md §8 scenario 1: an empty peer
// replicates a single-delegate project with one branch from its
// founding peer.
func TestRun_Clone(t *testing.T) {
	e := newEngine(t)
	kA := newKeypair(t)

	projectTip := singleDelegateProject(t, e.Local, kA)

	o1 := []byte("commit one")
	manifest := signedrefs.Manifest{Refs: map[string]string{}}
	o1Computed, err := objstore.ComputeID(o1)
	if err != nil {
		t.Fatal(err)
	}
	manifest.Refs["heads/main"] = o1Computed.String()
	signed := signManifest(t, manifest, kA)

	transport := &fakeTransport{
		peek: PeekResult{Peers: map[string]PeerAd{
			kA.multibase(t): {
				IdentityTip:  projectTip,
				RefsManifest: signed.Bytes,
				RefsTrailer:  signed.Trailer,
			},
		}},
		objects: map[objstore.ID][]byte{o1Computed: o1},
	}

	target := Target{URN: testURN}
	report, err := e.Run(context.Background(), target, transport, projectTip)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != Done {
		t.Fatalf("report.State = %v, want Done", report.State)
	}

	gotID, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "heads/main"))
	if err != nil || !ok {
		t.Fatalf("heads/main not committed: ok=%v err=%v", ok, err)
	}
	if gotID.String() != o1Computed.String() {
		t.Fatalf("heads/main = %v, want %v", gotID, o1Computed)
	}

	if _, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "rad/id")); err != nil || !ok {
		t.Fatalf("rad/id not committed: ok=%v err=%v", ok, err)
	}
	if _, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "rad/signed_refs")); err != nil || !ok {
		t.Fatalf("rad/signed_refs not committed: ok=%v err=%v", ok, err)
	}
}

// TestRun_NonFastForwardFromNonDelegate exercises spec.md §8 scenario 2:
// a delegate's update commits while a tracked non-delegate's
// non-fast-forward update is dropped without failing the operation.
func TestRun_NonFastForwardFromNonDelegate(t *testing.T) {
	e := newEngine(t)
	kA := newKeypair(t)
	kC := newKeypair(t)

	projectTip := singleDelegateProject(t, e.Local, kA)

	o1 := []byte("A commit")
	o1ID, err := objstore.ComputeID(o1)
	if err != nil {
		t.Fatal(err)
	}
	manifestA := signedrefs.Manifest{Refs: map[string]string{"heads/main": o1ID.String()}}
	signedA := signManifest(t, manifestA, kA)

	o7 := []byte("C feature, old tip")
	o7ID, err := e.Local.Put(o7)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.LocalRefs.CompareAndSwap(refName(testURN, kC.multibase(t), "heads/feature"), objstore.ID{}, o7ID); err != nil {
		t.Fatal(err)
	}

	o9 := []byte("C feature, unrelated new tip")
	o9ID, err := objstore.ComputeID(o9)
	if err != nil {
		t.Fatal(err)
	}
	manifestC := signedrefs.Manifest{Refs: map[string]string{"heads/feature": o9ID.String()}}
	signedC := signManifest(t, manifestC, kC)

	if err := e.Tracking.Track(tracking.Key{URN: testURN, Peer: kC.multibase(t)}, tracking.Config{Data: true}, tracking.Any); err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{
		peek: PeekResult{Peers: map[string]PeerAd{
			kA.multibase(t): {IdentityTip: projectTip, RefsManifest: signedA.Bytes, RefsTrailer: signedA.Trailer},
			kC.multibase(t): {RefsManifest: signedC.Bytes, RefsTrailer: signedC.Trailer},
		}},
		objects: map[objstore.ID][]byte{o1ID: o1, o9ID: o9},
	}

	report, err := e.Run(context.Background(), Target{URN: testURN}, transport, projectTip)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.State != Done {
		t.Fatalf("report.State = %v, want Done", report.State)
	}

	gotA, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "heads/main"))
	if err != nil || !ok || gotA.String() != o1ID.String() {
		t.Fatalf("delegate update not committed: got=%v ok=%v err=%v", gotA, ok, err)
	}

	gotC, ok, err := e.LocalRefs.Get(refName(testURN, kC.multibase(t), "heads/feature"))
	if err != nil || !ok || gotC.String() != o7ID.String() {
		t.Fatalf("non-delegate ref should be unchanged, got=%v ok=%v err=%v", gotC, ok, err)
	}

	var cOutcome *PeerOutcome
	for i := range report.Peers {
		if report.Peers[i].Peer == kC.multibase(t) {
			cOutcome = &report.Peers[i]
		}
	}
	if cOutcome == nil || len(cOutcome.Dropped) != 1 || cOutcome.Dropped[0] != "heads/feature" {
		t.Fatalf("expected heads/feature dropped for non-delegate, got %+v", cOutcome)
	}
}

// TestRun_DelegateNonFastForwardAborts exercises spec.md §4.6/§7's rule
// that a delegate's non-fast-forward update aborts the entire commit.
func TestRun_DelegateNonFastForwardAborts(t *testing.T) {
	e := newEngine(t)
	kA := newKeypair(t)
	projectTip := singleDelegateProject(t, e.Local, kA)

	existing := []byte("existing tip")
	existingID, err := e.Local.Put(existing)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.LocalRefs.CompareAndSwap(refName(testURN, kA.multibase(t), "heads/main"), objstore.ID{}, existingID); err != nil {
		t.Fatal(err)
	}

	unrelated := []byte("unrelated new tip")
	unrelatedID, err := objstore.ComputeID(unrelated)
	if err != nil {
		t.Fatal(err)
	}
	manifest := signedrefs.Manifest{Refs: map[string]string{"heads/main": unrelatedID.String()}}
	signed := signManifest(t, manifest, kA)

	transport := &fakeTransport{
		peek: PeekResult{Peers: map[string]PeerAd{
			kA.multibase(t): {IdentityTip: projectTip, RefsManifest: signed.Bytes, RefsTrailer: signed.Trailer},
		}},
		objects: map[objstore.ID][]byte{unrelatedID: unrelated},
	}

	report, err := e.Run(context.Background(), Target{URN: testURN}, transport, projectTip)
	if err == nil {
		t.Fatal("expected NonFastForward error to abort the commit")
	}
	if report.State != Failed {
		t.Fatalf("report.State = %v, want Failed", report.State)
	}

	gotID, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "heads/main"))
	if err != nil || !ok || gotID.String() != existingID.String() {
		t.Fatalf("ref should be unchanged after aborted commit: got=%v ok=%v err=%v", gotID, ok, err)
	}
}

// TestRun_SiblingIdentityTipsMarkedForked exercises spec.md §4.3's
// sibling tie-break rule and §8's fork-stickiness invariant: a second
// Run that advertises an identity tip unrelated to the one already
// committed for that peer is rejected as a fork, and both tips are
// permanently unverifiable afterward.
func TestRun_SiblingIdentityTipsMarkedForked(t *testing.T) {
	e := newEngine(t)
	kA := newKeypair(t)
	projectTip := singleDelegateProject(t, e.Local, kA)

	o1 := []byte("commit one")
	o1ID, err := objstore.ComputeID(o1)
	if err != nil {
		t.Fatal(err)
	}
	manifest1 := signedrefs.Manifest{Refs: map[string]string{"heads/main": o1ID.String()}}
	signed1 := signManifest(t, manifest1, kA)

	firstTransport := &fakeTransport{
		peek: PeekResult{Peers: map[string]PeerAd{
			kA.multibase(t): {IdentityTip: projectTip, RefsManifest: signed1.Bytes, RefsTrailer: signed1.Trailer},
		}},
		objects: map[objstore.ID][]byte{o1ID: o1},
	}
	if _, err := e.Run(context.Background(), Target{URN: testURN}, firstTransport, projectTip); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// A second, independently-founded identity attestation for the same
	// urn/peer: no ancestry relationship to projectTip at all, so it is
	// a sibling fork rather than a routine advance.
	siblingTip := singleDelegateProjectNamed(t, e.Local, kA, "sibling")

	o2 := []byte("commit two")
	o2ID, err := objstore.ComputeID(o2)
	if err != nil {
		t.Fatal(err)
	}
	manifest2 := signedrefs.Manifest{Refs: map[string]string{"heads/main": o2ID.String()}}
	signed2 := signManifest(t, manifest2, kA)

	secondTransport := &fakeTransport{
		peek: PeekResult{Peers: map[string]PeerAd{
			kA.multibase(t): {IdentityTip: siblingTip, RefsManifest: signed2.Bytes, RefsTrailer: signed2.Trailer},
		}},
		objects: map[objstore.ID][]byte{o2ID: o2},
	}
	report, err := e.Run(context.Background(), Target{URN: testURN}, secondTransport, projectTip)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if len(report.Peers) != 1 || report.Peers[0].Accepted {
		t.Fatalf("expected peer rejected as forked, got %+v", report.Peers)
	}

	gotMain, ok, err := e.LocalRefs.Get(refName(testURN, kA.multibase(t), "heads/main"))
	if err != nil || !ok || gotMain.String() != o1ID.String() {
		t.Fatalf("heads/main should be unchanged after rejected fork: got=%v ok=%v err=%v", gotMain, ok, err)
	}

	if !e.Verifier.IsForked(projectTip) || !e.Verifier.IsForked(siblingTip) {
		t.Fatal("expected both sibling tips permanently marked forked")
	}

	if _, err := e.Verifier.Verify(projectTip); err == nil {
		t.Fatal("expected Verify to fail permanently for a forked tip")
	}
}
