package cert

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localsync/localsync-go/pkg/persistence"
)

func TestGetOrGenerateLocalIsIdempotent(t *testing.T) {
	s, err := NewTrustStore(nil)
	require.NoError(t, err)

	first, err := s.GetOrGenerateLocal("testserver")
	require.NoError(t, err)
	second, err := s.GetOrGenerateLocal("testserver")
	require.NoError(t, err)

	assert.True(t, first.PrivateKey.Equal(second.PrivateKey), "key material changed")
	assert.True(t, Equal(first.Certificate, second.Certificate))

	a, err := s.GetOrGenerateLocal("a")
	require.NoError(t, err)
	b, err := s.GetOrGenerateLocal("b")
	require.NoError(t, err)
	assert.False(t, Equal(a.Certificate, b.Certificate))
	assert.False(t, a.PrivateKey.Equal(b.PrivateKey))

	assert.Equal(t, []string{"a", "b", "testserver"}, s.LocalNames())
}

func TestGetOrGenerateLocalConcurrent(t *testing.T) {
	s, _ := NewTrustStore(nil)

	var wg sync.WaitGroup
	results := make([]*Identity, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.GetOrGenerateLocal("server")
		}(i)
	}
	wg.Wait()

	for _, id := range results[1:] {
		assert.Same(t, results[0], id)
	}
}

func TestSetAcceptedRemoteIsWriteOnce(t *testing.T) {
	s, _ := NewTrustStore(nil)
	peer1, _ := GenerateSelfSigned("peer1")
	peer2, _ := GenerateSelfSigned("peer2")

	assert.False(t, s.IsPaired())
	require.NoError(t, s.SetAcceptedRemote(peer1.Certificate))
	assert.True(t, Equal(peer1.Certificate, s.Accepted()))

	err := s.SetAcceptedRemote(peer2.Certificate)
	assert.True(t, errors.Is(err, ErrAlreadyPaired), "got %v", err)
	err = s.SetAcceptedRemote(peer1.Certificate)
	assert.True(t, errors.Is(err, ErrAlreadyPaired), "same certificate twice: got %v", err)

	assert.True(t, Equal(peer1.Certificate, s.Accepted()), "accepted certificate was replaced")
}

func TestSetAcceptedRemoteNil(t *testing.T) {
	s, _ := NewTrustStore(nil)
	assert.ErrorIs(t, s.SetAcceptedRemote(nil), ErrInvalidCertificate)
	assert.Nil(t, s.Accepted())
}

func TestImportRemote(t *testing.T) {
	s, _ := NewTrustStore(nil)
	peer, _ := GenerateSelfSigned("server")

	c, err := s.ImportRemote("server", peer.PublicKeyBytes())
	require.NoError(t, err)
	assert.True(t, Equal(c, peer.Certificate))

	got, err := s.Remote("server")
	require.NoError(t, err)
	assert.True(t, Equal(got, peer.Certificate))

	_, err = s.Remote("missing")
	assert.ErrorIs(t, err, ErrCertNotFound)

	bundle, _ := EncodeIdentity(peer)
	_, err = s.ImportRemote("withkey", bundle)
	assert.ErrorIs(t, err, ErrInvalidCertificate)

	_, err = s.ImportRemote(AcceptedRemoteName, peer.PublicKeyBytes())
	assert.ErrorIs(t, err, ErrInvalidCertificate)

	// Import alone does not pair.
	assert.Nil(t, s.Accepted())
}

func TestImportAccepted(t *testing.T) {
	provider := persistence.NewMemoryProvider()
	s, err := NewTrustStore(provider)
	require.NoError(t, err)
	first, _ := GenerateSelfSigned("client")
	second, _ := GenerateSelfSigned("client")

	c, err := s.ImportAccepted("client", first.PublicKeyBytes())
	require.NoError(t, err)
	assert.True(t, Equal(c, first.Certificate))
	assert.True(t, Equal(s.Accepted(), first.Certificate))

	_, err = s.ImportAccepted("client", second.PublicKeyBytes())
	assert.ErrorIs(t, err, ErrAlreadyPaired)

	got, err := s.Remote("client")
	require.NoError(t, err)
	assert.True(t, Equal(got, first.Certificate), "remote entry replaced by rejected import")
	assert.True(t, Equal(s.Accepted(), first.Certificate))

	// What gets persisted still agrees with the pin.
	require.NoError(t, s.Save())
	reloaded, err := NewTrustStore(provider)
	require.NoError(t, err)
	got, err = reloaded.Remote("client")
	require.NoError(t, err)
	assert.True(t, Equal(got, first.Certificate))
	assert.True(t, Equal(reloaded.Accepted(), first.Certificate))

	_, err = s.ImportAccepted(AcceptedRemoteName, second.PublicKeyBytes())
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}

func TestTrustStorePersistence(t *testing.T) {
	provider := persistence.NewMemoryProvider()
	s, err := NewTrustStore(provider)
	require.NoError(t, err)

	local, err := s.GetOrGenerateLocal("server")
	require.NoError(t, err)
	imported, _ := GenerateSelfSigned("other")
	_, err = s.ImportRemote("other", imported.PublicKeyBytes())
	require.NoError(t, err)
	peer, _ := GenerateSelfSigned("client")
	require.NoError(t, s.SetAcceptedRemote(peer.Certificate))
	require.NoError(t, s.Close())

	t.Run("format", func(t *testing.T) {
		raw, err := provider.LoadStringByKey(persistence.KeyLocalCertificates)
		require.NoError(t, err)
		var list []map[string]string
		require.NoError(t, json.Unmarshal([]byte(raw), &list))
		require.Len(t, list, 1)
		assert.Equal(t, "server", list[0]["commonName"])
		_, err = base64.StdEncoding.DecodeString(list[0]["base64EncodedCertificate"])
		assert.NoError(t, err)

		raw, err = provider.LoadStringByKey(persistence.KeyRemoteCertificates)
		require.NoError(t, err)
		list = nil
		require.NoError(t, json.Unmarshal([]byte(raw), &list))
		assert.Len(t, list, 2)
	})

	t.Run("reload", func(t *testing.T) {
		reloaded, err := NewTrustStore(provider)
		require.NoError(t, err)

		id, err := reloaded.GetOrGenerateLocal("server")
		require.NoError(t, err)
		assert.True(t, Equal(local.Certificate, id.Certificate))
		assert.True(t, local.PrivateKey.Equal(id.PrivateKey))

		assert.True(t, Equal(peer.Certificate, reloaded.Accepted()))
		other, err := reloaded.Remote("other")
		require.NoError(t, err)
		assert.True(t, Equal(imported.Certificate, other))

		assert.ErrorIs(t, reloaded.SetAcceptedRemote(imported.Certificate), ErrAlreadyPaired)
	})
}

func TestTrustStoreCorruptProvider(t *testing.T) {
	provider := persistence.NewMemoryProvider()
	require.NoError(t, provider.StoreStringByKey(persistence.KeyRemoteCertificates,
		`[{"commonName":"x","base64EncodedCertificate":"!!!"}]`))

	_, err := NewTrustStore(provider)
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}

func TestTrustStoreWithoutProvider(t *testing.T) {
	s, err := NewTrustStore(nil)
	require.NoError(t, err)
	assert.NoError(t, s.Save())
	assert.NoError(t, s.Close())
}
