package envelope

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/openemail/internal/client/models"
	"github.com/dmitrijs2005/openemail/internal/common"
	"github.com/dmitrijs2005/openemail/internal/cryptox"
	"github.com/dmitrijs2005/openemail/internal/identity"
)

type party struct {
	user    *identity.LocalUser
	profile *models.Profile
}

func newParty(t *testing.T, addr string) party {
	t.Helper()
	u, err := identity.GenerateLocalUser(identity.MustParseEmailAddress(addr), "")
	require.NoError(t, err)
	return party{user: u, profile: models.NewOwnProfile(u, time.Now())}
}

func privateContent(author party, readers ...party) *ContentHeaders {
	h := &ContentHeaders{
		MessageID: strings.Repeat("ab", 32),
		Author:    author.user.Address,
		Date:      time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Subject:   "Quarterly report",
		Checksum:  cryptox.SHA256Sum([]byte("hello")),
		Size:      5,
		Category:  DefaultCategory,
	}
	for _, r := range readers {
		h.Readers = append(h.Readers, r.user.Address)
	}
	h.SubjectID = h.MessageID
	return h
}

// reparse simulates the wire: headers are rendered and parsed again.
func reparse(t *testing.T, e *Envelope) *Envelope {
	t.Helper()
	out, err := ParseHeaders(e.Header())
	require.NoError(t, err)
	return out
}

func TestSealOpen_PrivateRoundTrip(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")
	carol := newParty(t, "carol@example.net")

	content := privateContent(alice, bob, carol)
	sealed, err := Seal(alice.user, content, []*models.Profile{bob.profile, carol.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	require.NoError(t, err)
	require.Len(t, sealed.AccessKey, cryptox.SymmetricKeySize)
	assert.Len(t, sealed.Envelope.AccessLinks, 3, "author and both readers")

	for _, reader := range []party{alice, bob, carol} {
		env := reparse(t, sealed.Envelope)
		assert.False(t, env.IsBroadcast())

		require.NoError(t, env.AssertAuthenticity(alice.profile))

		key, err := env.AccessKey(reader.user, alice.user.Address)
		require.NoError(t, err, reader.user.Address.String())
		assert.Equal(t, sealed.AccessKey, key)

		got, err := env.OpenContentHeaders(key)
		require.NoError(t, err)
		if diff := cmp.Diff(content, got); diff != "" {
			t.Errorf("content headers mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestAccessKey_NonReaderHasNoLink(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")
	eve := newParty(t, "eve@example.org")

	sealed, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bob.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	require.NoError(t, err)

	env := reparse(t, sealed.Envelope)
	require.NoError(t, env.AssertAuthenticity(alice.profile))

	_, err = env.AccessKey(eve.user, alice.user.Address)
	require.ErrorIs(t, err, ErrNoAccessLink)

	_, err = env.OpenContentHeaders(nil)
	require.ErrorIs(t, err, ErrNoAccessLink)
}

func TestAccessKey_FingerprintMismatch(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")

	// A profile published with a signing key that is not bob's.
	stale := newParty(t, "bob@example.org")
	stale.profile.EncryptionKey = bob.profile.EncryptionKey

	sealed, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{stale.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	require.NoError(t, err)

	env := reparse(t, sealed.Envelope)
	_, err = env.AccessKey(bob.user, alice.user.Address)
	require.ErrorIs(t, err, cryptox.ErrFingerprintMismatch)
}

func TestSealOpen_Broadcast(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	stranger := newParty(t, "someone@example.org")

	content := privateContent(alice)
	sealed, err := Seal(alice.user, content, nil, PayloadCipher{})
	require.NoError(t, err)
	assert.Nil(t, sealed.AccessKey)

	h := sealed.Envelope.Header()
	assert.Empty(t, h.Get(common.HeaderAccess))
	assert.Empty(t, h.Get(common.HeaderEncryption))

	env := reparse(t, sealed.Envelope)
	assert.True(t, env.IsBroadcast())
	assert.Nil(t, env.Payload)
	require.NoError(t, env.AssertAuthenticity(alice.profile))

	key, err := env.AccessKey(stranger.user, alice.user.Address)
	require.NoError(t, err)
	assert.Nil(t, key)

	got, err := env.OpenContentHeaders(nil)
	require.NoError(t, err)
	assert.True(t, got.IsBroadcast())
	assert.Equal(t, content.Subject, got.Subject)
}

func TestOpenContentHeaders_RequiresAuthenticity(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	sealed, err := Seal(alice.user, privateContent(alice), nil, PayloadCipher{})
	require.NoError(t, err)

	env := reparse(t, sealed.Envelope)
	_, err = env.OpenContentHeaders(nil)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAssertAuthenticity_WrongAuthorKey(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	mallory := newParty(t, "alice@example.com")

	sealed, err := Seal(alice.user, privateContent(alice), nil, PayloadCipher{})
	require.NoError(t, err)

	env := reparse(t, sealed.Envelope)
	require.ErrorIs(t, env.AssertAuthenticity(mallory.profile), cryptox.ErrSignatureMismatch)
}

func TestAssertAuthenticity_LastSigningKeyFallback(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	sealed, err := Seal(alice.user, privateContent(alice), nil, PayloadCipher{})
	require.NoError(t, err)

	// Alice rotated keys after sealing: the old key moved to Last-Signing-Key.
	rotated := newParty(t, "alice@example.com")
	rotated.profile.Set(models.ProfileLastSigningKey, alice.profile.Value(models.ProfileSigningKey))
	require.NotNil(t, rotated.profile.LastSigningKey)

	env := reparse(t, sealed.Envelope)
	require.NoError(t, env.AssertAuthenticity(rotated.profile))
}

func flipChar(s string, i int) string {
	b := []byte(s)
	if b[i] == '0' {
		b[i] = '1'
	} else {
		b[i] = '0'
	}
	return string(b)
}

func TestAssertAuthenticity_TamperDetection(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")

	sealed, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bob.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricFileCipher, ChunkSize: cryptox.DefaultChunkSize})
	require.NoError(t, err)

	names := []string{
		common.HeaderMessageID,
		common.HeaderStreamID,
		common.HeaderAccess,
		common.HeaderContentHeaders,
		common.HeaderEncryption,
		common.HeaderEnvelopeChecksum,
		common.HeaderEnvelopeSignature,
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			h := sealed.Envelope.Header()
			v := h.Get(name)
			require.NotEmpty(t, v)

			// Flip a byte inside the last "value=" if any, else at the end.
			i := strings.LastIndex(v, "value=")
			if i >= 0 {
				i += len("value=") + 10
			} else {
				i = len(v) - 1
			}
			h.Set(name, flipChar(v, i))

			env, err := ParseHeaders(h)
			if err != nil {
				return
			}
			assert.Error(t, env.AssertAuthenticity(alice.profile))
		})
	}
}

func TestAssertAuthenticity_UncoveredHeader(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	sealed, err := Seal(alice.user, privateContent(alice), nil, PayloadCipher{})
	require.NoError(t, err)

	h := sealed.Envelope.Header()
	h.Set("Message-Injected", "x")
	env, err := ParseHeaders(h)
	require.NoError(t, err)
	require.ErrorIs(t, env.AssertAuthenticity(alice.profile), ErrChecksumMismatch)
}

func TestParseHeaders(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	sealed, err := Seal(alice.user, privateContent(alice), nil, PayloadCipher{})
	require.NoError(t, err)

	t.Run("case insensitive and prefix filtered", func(t *testing.T) {
		h := http.Header{}
		for k, v := range sealed.Envelope.Header() {
			h[strings.ToUpper(k)] = v
		}
		h.Set("Content-Type", "application/octet-stream")
		env, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.Equal(t, sealed.Envelope.MessageID, env.MessageID)
		require.NoError(t, env.AssertAuthenticity(alice.profile))
	})

	t.Run("too large", func(t *testing.T) {
		h := sealed.Envelope.Header()
		h.Set("Message-Padding", strings.Repeat("x", common.MaxHeadersSize))
		_, err := ParseHeaders(h)
		require.ErrorIs(t, err, ErrTooLargeEnvelope)
	})

	t.Run("missing id", func(t *testing.T) {
		h := sealed.Envelope.Header()
		h.Del(common.HeaderMessageID)
		_, err := ParseHeaders(h)
		require.ErrorIs(t, err, ErrBadHeaderFormat)
	})

	t.Run("id is not a plain token", func(t *testing.T) {
		for _, id := range []string{"../../../victim", "a/b", "a b", strings.Repeat("x", 129)} {
			h := sealed.Envelope.Header()
			h.Set(common.HeaderMessageID, id)
			_, err := ParseHeaders(h)
			assert.ErrorIs(t, err, ErrBadHeaderFormat, id)
		}
	})

	t.Run("private without access", func(t *testing.T) {
		bob := newParty(t, "bob@example.org")
		priv, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bob.profile},
			PayloadCipher{Algorithm: cryptox.SymmetricCipher})
		require.NoError(t, err)
		h := priv.Envelope.Header()
		h.Del(common.HeaderAccess)
		_, err = ParseHeaders(h)
		require.ErrorIs(t, err, ErrBadAccessLinks)
	})
}

func TestParseHeaders_ChunkSizeBounds(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")

	for _, tc := range []struct {
		size int
		ok   bool
	}{
		{1023, false},
		{1024, true},
		{1048575, true},
		{1048576, false},
	} {
		_, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bob.profile},
			PayloadCipher{Algorithm: cryptox.SymmetricFileCipher, ChunkSize: tc.size})
		if tc.ok {
			assert.NoError(t, err, tc.size)
		} else {
			assert.ErrorIs(t, err, cryptox.ErrBadChunkSize, tc.size)
		}
	}

	sealed, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bob.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricFileCipher, ChunkSize: 2048})
	require.NoError(t, err)
	h := sealed.Envelope.Header()
	h.Set(common.HeaderEncryption, "algorithm=secretstream_xchacha20poly1305; chunk-size=512")
	_, err = ParseHeaders(h)
	require.ErrorIs(t, err, cryptox.ErrBadChunkSize)
}

func TestSeal_RejectsPathLikeMessageID(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")

	content := privateContent(alice, bob)
	content.MessageID = "../../../victim"
	_, err := Seal(alice.user, content, []*models.Profile{bob.profile}, PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	require.ErrorIs(t, err, ErrBadContentHeaders)
}

func TestSeal_ReaderWithoutKeys(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")
	bare := models.ParseProfile(bob.user.Address, "Name: Bob\n")

	_, err := Seal(alice.user, privateContent(alice, bob), []*models.Profile{bare},
		PayloadCipher{Algorithm: cryptox.SymmetricCipher})
	require.ErrorIs(t, err, ErrBadReaderProfile)
}

func TestOpenPayload(t *testing.T) {
	alice := newParty(t, "alice@example.com")
	bob := newParty(t, "bob@example.org")
	dir := t.TempDir()

	plain := []byte(strings.Repeat("attachment bytes ", 500))
	src := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(src, plain, 0o600))

	content := privateContent(alice, bob)
	content.Checksum = cryptox.SHA256Sum(plain)
	content.Size = int64(len(plain))

	sealed, err := Seal(alice.user, content, []*models.Profile{bob.profile},
		PayloadCipher{Algorithm: cryptox.SymmetricFileCipher, ChunkSize: 1024})
	require.NoError(t, err)

	enc := filepath.Join(dir, "enc")
	require.NoError(t, cryptox.EncryptFileRange(src, 0, int64(len(plain)), enc, sealed.AccessKey, 1024))

	env := reparse(t, sealed.Envelope)
	require.NoError(t, env.AssertAuthenticity(alice.profile))
	key, err := env.AccessKey(bob.user, alice.user.Address)
	require.NoError(t, err)
	got, err := env.OpenContentHeaders(key)
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	require.NoError(t, env.OpenPayload(enc, out, key))
	require.NoError(t, VerifyPayload(got, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plain, data)

	got.Checksum = cryptox.SHA256Sum([]byte("other"))
	require.ErrorIs(t, VerifyPayload(got, out), ErrChecksumMismatch)
}

func TestIsIntegrityError(t *testing.T) {
	assert.True(t, IsIntegrityError(ErrChecksumMismatch))
	assert.True(t, IsIntegrityError(cryptox.ErrSignatureMismatch))
	assert.False(t, IsIntegrityError(os.ErrNotExist))
}
