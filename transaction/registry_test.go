package transaction

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return a
}

func TestRegisterThenResolve(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:6881")

	var got []byte
	var gotErr error
	done := make(chan struct{})
	tid, err := r.Register(addr, func(reply []byte, err error) {
		got, gotErr = reply, err
		close(done)
	})
	require.NoError(t, err)

	ok := r.Resolve(addr, tid, []byte("reply-payload"), nil)
	assert.True(t, ok)

	<-done
	assert.NoError(t, gotErr)
	assert.Equal(t, "reply-payload", string(got))
}

func TestTimeoutFiresResolverOnce(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:6882")

	calls := 0
	var mu sync.Mutex
	done := make(chan struct{})
	tid, err := r.Register(addr, func(reply []byte, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)
	_ = tid

	select {
	case <-done:
	case <-time.After(Timeout + 500*time.Millisecond):
		t.Fatal("resolver was never invoked on timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestLateResponseAfterTimeoutIsUnmatched(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:6883")

	done := make(chan struct{})
	tid, err := r.Register(addr, func(reply []byte, err error) {
		close(done)
	})
	require.NoError(t, err)

	<-done
	// The slot is freed after timeout; a late resolve must report unmatched.
	ok := r.Resolve(addr, tid, []byte("late"), nil)
	assert.False(t, ok)
}

func TestTransactionIDsMonotonicPerEndpoint(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:6884")

	seen := map[uint16]bool{}
	for i := 0; i < 5; i++ {
		tid, err := r.Register(addr, func([]byte, error) {})
		require.NoError(t, err)
		v := uint16(tid[0])<<8 | uint16(tid[1])
		assert.False(t, seen[v], "tid %d reused while still pending", v)
		assert.Equal(t, uint16(i+1), v, "tids count up from 1 per endpoint")
		seen[v] = true
	}
}

func TestDestroyDropsWithoutCallingResolvers(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:6885")

	called := false
	_, err := r.Register(addr, func([]byte, error) {
		called = true
	})
	require.NoError(t, err)

	r.Destroy()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, called)

	_, err = r.Register(addr, func([]byte, error) {})
	assert.Error(t, err)
}
