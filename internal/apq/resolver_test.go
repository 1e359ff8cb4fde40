package apq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/require"
)

const testQuery = "{ testString }"

func newTestResolver(t *testing.T) (*Resolver, *LRUStore) {
	t.Helper()
	store, err := NewLRUStore(16)
	require.NoError(t, err)
	return NewResolver(store, log.NoopLogger), store
}

func TestLiteralQueryWithoutExtension(t *testing.T) {
	r, _ := newTestResolver(t)
	res, qerr := r.Resolve(context.Background(), testQuery, nil)
	require.Nil(t, qerr)
	require.Equal(t, testQuery, res.Query)
	require.Equal(t, Fingerprint(testQuery), res.Hash)
	require.False(t, res.Hit)
	require.False(t, res.Register)
}

func TestRegisterThenHit(t *testing.T) {
	r, _ := newTestResolver(t)
	hash := Fingerprint(testQuery)

	res, qerr := r.Resolve(context.Background(), testQuery, &Extension{Version: 1, Sha256Hash: hash})
	require.Nil(t, qerr)
	require.True(t, res.Register)
	require.Equal(t, testQuery, res.Query)

	// The registration write is asynchronous.
	require.Eventually(t, func() bool {
		res, qerr = r.Resolve(context.Background(), "", &Extension{Version: 1, Sha256Hash: hash})
		return qerr == nil
	}, time.Second, 5*time.Millisecond)
	require.True(t, res.Hit)
	require.Equal(t, testQuery, res.Query)
}

func TestHashMismatchAlwaysRejected(t *testing.T) {
	r, store := newTestResolver(t)
	wrong := Fingerprint("{ other }")

	res, qerr := r.Resolve(context.Background(), testQuery, &Extension{Version: 1, Sha256Hash: wrong})
	require.NotNil(t, qerr)
	require.Equal(t, "BAD_USER_INPUT", qerr.Code())
	require.Zero(t, res)

	// Pre-populating the store must not change the outcome.
	require.NoError(t, store.Set(context.Background(), KeyPrefix+wrong, "{ other }"))
	_, qerr = r.Resolve(context.Background(), testQuery, &Extension{Version: 1, Sha256Hash: wrong})
	require.NotNil(t, qerr)
	require.Equal(t, "BAD_USER_INPUT", qerr.Code())
}

func TestMissWithoutRegistration(t *testing.T) {
	r, _ := newTestResolver(t)
	_, qerr := r.Resolve(context.Background(), "", &Extension{Version: 1, Sha256Hash: Fingerprint(testQuery)})
	require.NotNil(t, qerr)
	require.Equal(t, "PERSISTED_QUERY_NOT_FOUND", qerr.Code())
}

func TestNotSupportedWithoutStore(t *testing.T) {
	r := NewResolver(nil, log.NoopLogger)
	_, qerr := r.Resolve(context.Background(), "", &Extension{Version: 1, Sha256Hash: "abc"})
	require.NotNil(t, qerr)
	require.Equal(t, "PERSISTED_QUERY_NOT_SUPPORTED", qerr.Code())
}

func TestUnsupportedVersion(t *testing.T) {
	r, _ := newTestResolver(t)
	_, qerr := r.Resolve(context.Background(), testQuery, &Extension{Version: 2, Sha256Hash: Fingerprint(testQuery)})
	require.NotNil(t, qerr)
	require.Equal(t, "BAD_USER_INPUT", qerr.Code())
}

func TestMissingQueryAndHash(t *testing.T) {
	r, _ := newTestResolver(t)
	_, qerr := r.Resolve(context.Background(), "", nil)
	require.NotNil(t, qerr)
	require.Equal(t, "BAD_USER_INPUT", qerr.Code())
}

// failingStore accepts reads but rejects every write.
type failingStore struct {
	mu     sync.Mutex
	writes int
	done   chan struct{}
}

func (s *failingStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (s *failingStore) Set(context.Context, string, string) error {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	close(s.done)
	return errors.New("backend down")
}

func TestRegisterWriteFailureDoesNotSurface(t *testing.T) {
	store := &failingStore{done: make(chan struct{})}
	r := NewResolver(store, log.NoopLogger)
	hash := Fingerprint(testQuery)

	res, qerr := r.Resolve(context.Background(), testQuery, &Extension{Version: 1, Sha256Hash: hash})
	require.Nil(t, qerr)
	require.True(t, res.Register)
	require.Equal(t, testQuery, res.Query)

	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("background write never attempted")
	}
}

func TestFingerprintStable(t *testing.T) {
	require.Equal(t, Fingerprint(testQuery), Fingerprint(testQuery))
	require.NotEqual(t, Fingerprint(testQuery), Fingerprint("{ other }"))
	require.Len(t, Fingerprint(testQuery), 64)
}
