package ldap_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirclient/internal/ldap"
	"github.com/isometry/dirclient/internal/ldap/ldaptest"
)

func TestWorkerPool_Limit(t *testing.T) {
	pool := ldap.NewWorkerPool(2)

	var running, peak atomic.Int32
	for range 10 {
		pool.Go(t.Context(), func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}, func(err error) {
			t.Errorf("unexpected skip: %v", err)
		})
	}
	pool.Wait()

	assert.Equal(t, int32(2), peak.Load())
}

func TestWorkerPool_SkipsWhenCancelled(t *testing.T) {
	pool := ldap.NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	pool.Go(t.Context(), func() {
		close(started)
		<-release
	}, nil)
	<-started

	ctx, cancel := context.WithCancel(t.Context())
	skipped := make(chan error, 1)
	ran := false
	pool.Go(ctx, func() { ran = true }, func(err error) { skipped <- err })
	cancel()

	assert.ErrorIs(t, <-skipped, context.Canceled)
	close(release)
	pool.Wait()
	assert.False(t, ran)
}

func TestWorkerPool_Unbounded(t *testing.T) {
	pool := ldap.NewWorkerPool(0)

	var wg sync.WaitGroup
	wg.Add(5)
	for range 5 {
		pool.Go(t.Context(), func() {
			wg.Done()
			wg.Wait()
		}, nil)
	}
	pool.Wait()
}

func deleteRequests(dns ...string) []*ldap.DeleteRequest {
	reqs := make([]*ldap.DeleteRequest, len(dns))
	for i, dn := range dns {
		reqs[i] = &ldap.DeleteRequest{DN: dn}
	}
	return reqs
}

func TestOperationWorker_Submit(t *testing.T) {
	p := ldaptest.NewProvider(ldap.NewEntry(testDN, ldap.NewAttribute("cn", "a")))
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a"))
	worker := ldap.NewOperationWorker("compare", ldap.Executor[*ldap.CompareRequest, bool](ldap.NewCompareOperation(conn)), nil)

	futures := worker.SubmitAll(t.Context(),
		&ldap.CompareRequest{DN: testDN, Attribute: "cn", Value: "a"},
		&ldap.CompareRequest{DN: testDN, Attribute: "cn", Value: "b"},
	)
	require.Len(t, futures, 2)

	first, err := futures[0].Wait(t.Context())
	require.NoError(t, err)
	second, err := futures[1].Wait(t.Context())
	require.NoError(t, err)

	assert.True(t, first.Result())
	assert.False(t, second.Result())
}

func TestOperationWorker_ExecuteToCompletion(t *testing.T) {
	var dns []string
	for i := range 6 {
		dns = append(dns, fmt.Sprintf("cn=user%d,%s", i, baseDN))
	}
	p := ldaptest.NewProvider(ldaptest.Entries(dns[:5]...)...)
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a", withRetry(0, 0, 0)))
	worker := ldap.NewOperationWorker("delete", ldap.Executor[*ldap.DeleteRequest, ldap.Void](ldap.NewDeleteOperation(conn)), ldap.NewWorkerPool(3))

	responses := worker.ExecuteToCompletion(t.Context(), deleteRequests(dns...)...)

	assert.Len(t, responses, 5, "the missing entry is dropped from the results")
	assert.Equal(t, 6, p.Calls("delete"))

	resp, err := ldap.NewSearchOperation(conn).Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
	require.NoError(t, err)
	assert.Zero(t, resp.Result().Size())
}

func TestOperationWorker_CancelledBeforeStart(t *testing.T) {
	p := ldaptest.NewProvider(ldaptest.Entries(testDN)...)
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a"))
	pool := ldap.NewWorkerPool(1)
	block := make(chan struct{})
	started := make(chan struct{})
	pool.Go(t.Context(), func() {
		close(started)
		<-block
	}, nil)
	<-started

	ctx, cancel := context.WithCancel(t.Context())
	worker := ldap.NewOperationWorker("delete", ldap.Executor[*ldap.DeleteRequest, ldap.Void](ldap.NewDeleteOperation(conn)), pool)
	future := worker.Submit(ctx, &ldap.DeleteRequest{DN: testDN})
	cancel()

	_, err := future.Wait(t.Context())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, p.Calls("delete"))
	close(block)
	pool.Wait()
}

func TestFuture_WaitContext(t *testing.T) {
	pool := ldap.NewWorkerPool(1)
	block := make(chan struct{})
	started := make(chan struct{})
	pool.Go(t.Context(), func() {
		close(started)
		<-block
	}, nil)
	<-started

	p := ldaptest.NewProvider(ldaptest.Entries(testDN)...)
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a"))
	worker := ldap.NewOperationWorker("delete", ldap.Executor[*ldap.DeleteRequest, ldap.Void](ldap.NewDeleteOperation(conn)), pool)
	future := worker.Submit(t.Context(), &ldap.DeleteRequest{DN: testDN})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	<-future.Done()
	pool.Wait()
	assert.Equal(t, 1, p.Calls("delete"))
}
