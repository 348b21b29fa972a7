package wire

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/octofork/radlink/identity"
	"github.com/octofork/radlink/objstore"
	"github.com/octofork/radlink/objstore/fsstore"
	"github.com/octofork/radlink/peerid"
	"github.com/octofork/radlink/replicate"
	"github.com/octofork/radlink/sigkit"
	"github.com/octofork/radlink/signedrefs"
	"github.com/octofork/radlink/tracking"
	"github.com/octofork/radlink/transport/objrpc"
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

func dialBufconn(t *testing.T, srv *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

// singleDelegateProject mirrors replicate's own test helper: builds a
// one-delegate project identity document and its founding attestation,
// signed by k, and returns the attestation's content address.
func singleDelegateProject(t *testing.T, store objstore.Store, k keypair) objstore.ID {
	t.Helper()
	payload, err := identity.ProjectPayload(map[string]any{"name": "example"})
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

var testURN = urn.URN("rad:ztest0000000000000000000000000000000")

func newTestEngine(t *testing.T) *replicate.Engine {
	t.Helper()
	blobs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	refs, err := fsstore.NewRefs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &replicate.Engine{
		Local:     blobs,
		LocalRefs: refs,
		Verifier:  identity.NewVerifier(blobs),
		Tracking:  &tracking.Store{Blobs: blobs, Refs: refs},
	}
}

// TestPeekService_RoundTrip serves a locally-populated peer subtree
// over PeekService and checks the client decodes it back exactly,
// including the signed-refs trailer persisted alongside the manifest.
func TestPeekService_RoundTrip(t *testing.T) {
	e := newTestEngine(t)
	kA := newKeypair(t)
	peerA := kA.multibase(t)

	projectTip := singleDelegateProject(t, e.Local, kA)

	manifest := signedrefs.Manifest{Refs: map[string]string{"heads/main": projectTip.String()}}
	signed := signManifest(t, manifest, kA)

	manifestID, err := e.Local.Put(signed.Bytes)
	require.NoError(t, err)
	trailerID, err := e.Local.Put([]byte(signed.Trailer))
	require.NoError(t, err)
	mustCAS(t, e.LocalRefs, refName(testURN, peerA, "rad/id"), projectTip)
	mustCAS(t, e.LocalRefs, refName(testURN, peerA, "rad/signed_refs"), manifestID)
	mustCAS(t, e.LocalRefs, refName(testURN, peerA, "rad/signed_refs.sig"), trailerID)

	s := grpc.NewServer()
	RegisterPeekServiceServer(s, &PeekServer{Blobs: e.Local, Refs: e.LocalRefs})
	cc := dialBufconn(t, s)

	client := NewPeekClient(cc)
	result, err := client.Peek(context.Background(), replicate.Target{URN: testURN})
	require.NoError(t, err)

	ad, ok := result.Peers[peerA]
	require.True(t, ok, "peer %s not advertised", peerA)
	require.Equal(t, projectTip.String(), ad.IdentityTip.String())
	require.Equal(t, signed.Bytes, ad.RefsManifest)
	require.Equal(t, signed.Trailer, ad.RefsTrailer)
}

func mustCAS(t *testing.T, refs objstore.RefStore, name string, id objstore.ID) {
	t.Helper()
	if err := refs.CompareAndSwap(name, objstore.ID{}, id); err != nil {
		t.Fatalf("CompareAndSwap(%s): %v", name, err)
	}
}

// TestClient_Clone drives replicate.Engine.Run end to end over a real
// (bufconn) gRPC connection: a remote serves its founding peer's
// identity/signed-refs/object data over PeekService+FetchService, and
// the local engine clones it, matching spec.md §8 scenario 1.
func TestClient_Clone(t *testing.T) {
	remote := newTestEngine(t)
	kA := newKeypair(t)
	peerA := kA.multibase(t)

	projectTip := singleDelegateProject(t, remote.Local, kA)

	o1 := []byte("commit one")
	o1ID, err := remote.Local.Put(o1)
	if err != nil {
		t.Fatal(err)
	}
	manifest := signedrefs.Manifest{Refs: map[string]string{"heads/main": o1ID.String()}}
	signed := signManifest(t, manifest, kA)

	manifestID, err := remote.Local.Put(signed.Bytes)
	require.NoError(t, err)
	trailerID, err := remote.Local.Put([]byte(signed.Trailer))
	require.NoError(t, err)
	mustCAS(t, remote.LocalRefs, refName(testURN, peerA, "rad/id"), projectTip)
	mustCAS(t, remote.LocalRefs, refName(testURN, peerA, "rad/signed_refs"), manifestID)
	mustCAS(t, remote.LocalRefs, refName(testURN, peerA, "rad/signed_refs.sig"), trailerID)

	s := grpc.NewServer()
	RegisterPeekServiceServer(s, &PeekServer{Blobs: remote.Local, Refs: remote.LocalRefs})
	objrpc.RegisterObjectStoreServer(s, &objrpc.Server{Store: remote.Local})
	cc := dialBufconn(t, s)

	client := NewClient(cc, "", time.Second)

	local := newTestEngine(t)
	report, err := local.Run(context.Background(), replicate.Target{URN: testURN}, client, projectTip)
	require.NoError(t, err)
	require.Equal(t, replicate.Done, report.State)

	gotID, ok, err := local.LocalRefs.Get(refName(testURN, peerA, "heads/main"))
	require.NoError(t, err)
	require.True(t, ok, "heads/main not committed")
	require.Equal(t, o1ID.String(), gotID.String())
	require.True(t, local.Local.Has(o1ID), "object not fetched locally")
}

// TestClient_Fetch_UsesBundle exercises Fetch's GetBundle path directly:
// with enough requested ids to clear bundleFetchThreshold, the client
// should decode a single TAR bundle rather than issuing one Get per id,
// and still return every object keyed by its id.
func TestClient_Fetch_UsesBundle(t *testing.T) {
	remote := newTestEngine(t)

	want := make(map[objstore.ID][]byte)
	ids := make([]objstore.ID, 0, bundleFetchThreshold+1)
	for i := 0; i < bundleFetchThreshold+1; i++ {
		b := []byte("bundled object " + string(rune('a'+i)))
		id, err := remote.Local.Put(b)
		require.NoError(t, err)
		want[id] = b
		ids = append(ids, id)
	}

	s := grpc.NewServer()
	objrpc.RegisterObjectStoreServer(s, &objrpc.Server{Store: remote.Local})
	cc := dialBufconn(t, s)

	client := NewClient(cc, "", time.Second)
	got, err := client.Fetch(context.Background(), replicate.Target{URN: testURN}, ids)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for id, b := range want {
		require.Equal(t, b, got[id])
	}
}

// TestPushService_MutualSync exercises spec.md §8 scenario 6: the local
// peer is ahead on one ref and pushes it to a remote over PushService,
// which validates and commits it in the receiver role.
func TestPushService_MutualSync(t *testing.T) {
	remote := newTestEngine(t)
	kA := newKeypair(t)
	peerA := kA.multibase(t)

	projectTip := singleDelegateProject(t, remote.Local, kA)
	mustCAS(t, remote.LocalRefs, refName(testURN, peerA, "rad/id"), projectTip)

	s := grpc.NewServer()
	RegisterPushServiceServer(s, &PushServer{
		Engine:   remote,
		Verifier: SelfIdentityLookup{Refs: remote.LocalRefs, SelfPeer: peerA},
	})
	RegisterPeekServiceServer(s, &PeekServer{Blobs: remote.Local, Refs: remote.LocalRefs})
	cc := dialBufconn(t, s)

	local := newTestEngine(t)
	o1 := []byte("commit one")
	o1ID, err := local.Local.Put(o1)
	require.NoError(t, err)
	mustCAS(t, local.LocalRefs, refName(testURN, peerA, "heads/main"), o1ID)

	session := &replicate.PushSession{
		Engine:    local,
		LocalPeer: peerA,
		Sign:      kA.sign,
	}
	client := NewClient(cc, peerA, time.Second)
	pushReport, err := session.Run(context.Background(), testURN, replicate.Target{URN: testURN}, client)
	require.NoError(t, err)
	require.True(t, pushReport.Pushed["heads/main"], "heads/main not accepted: %+v reasons=%v", pushReport.Pushed, pushReport.Reasons)

	gotID, ok, err := remote.LocalRefs.Get(refName(testURN, peerA, "heads/main"))
	require.NoError(t, err)
	require.True(t, ok, "remote heads/main not committed")
	require.Equal(t, o1ID.String(), gotID.String())
}
