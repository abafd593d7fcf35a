package allowlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  []Row
	err   error
	calls int
	hints chan struct{}
}

func (f *fakeSource) Fetch(context.Context) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, f.err
}

func (f *fakeSource) set(rows []Row, err error) {
	f.mu.Lock()
	f.rows, f.err = rows, err
	f.mu.Unlock()
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type invalidatingSource struct {
	*fakeSource
}

func (s invalidatingSource) Invalidations(context.Context) <-chan struct{} { return s.hints }

type recordingObserver struct {
	mu      sync.Mutex
	results []bool
}

func (o *recordingObserver) AllowlistRefreshed(ok bool, _ int) {
	o.mu.Lock()
	o.results = append(o.results, ok)
	o.mu.Unlock()
}

func active(v bool) *bool { return &v }

func TestEmptyStoreIsFailOpen(t *testing.T) {
	s := NewStore(&fakeSource{}, nil, zaptest.NewLogger(t).Sugar())
	s.Refresh(context.Background())

	assert.Equal(t, 0, s.Size())
	assert.True(t, s.IsAllowed("11:22:33:44:55:66"))
	assert.True(t, s.IsAllowed(""))
}

func TestEmptyStoreFailClosed(t *testing.T) {
	s := NewStore(nil, nil, zaptest.NewLogger(t).Sugar(), WithFailClosed(true))
	assert.False(t, s.IsAllowed("11:22:33:44:55:66"))
}

func TestRefreshFiltersAndCanonicalizes(t *testing.T) {
	src := &fakeSource{rows: []Row{
		{Identifier: "11:22:33:44:55:66", Active: active(true)},
		{Identifier: "AA-BB-CC-DD-EE-FF"},
		{Identifier: "01:02:03:04:05:06", Active: active(false)},
		{Identifier: "::"},
	}}
	s := NewStore(src, []string{"99:99:99:99:99:99"}, zaptest.NewLogger(t).Sugar())
	s.Refresh(context.Background())

	assert.Equal(t, 3, s.Size())
	assert.True(t, s.IsAllowed("112233445566"))
	assert.True(t, s.IsAllowed("aa:bb:cc:dd:ee:ff"))
	assert.True(t, s.IsAllowed("99-99-99-99-99-99"), "bootstrap is always merged")
	assert.False(t, s.IsAllowed("01:02:03:04:05:06"), "explicitly inactive")
	assert.False(t, s.IsAllowed(""), "unknown device against a non-empty set")
}

func TestFailedRefreshKeepsPreviousSet(t *testing.T) {
	src := &fakeSource{rows: []Row{{Identifier: "11:22:33:44:55:66"}}}
	obs := &recordingObserver{}
	s := NewStore(src, nil, zaptest.NewLogger(t).Sugar(), WithObserver(obs))
	s.Refresh(context.Background())

	probe := []string{"11:22:33:44:55:66", "aa:aa:aa:aa:aa:aa", ""}
	before := make([]bool, len(probe))
	for i, id := range probe {
		before[i] = s.IsAllowed(id)
	}

	src.set(nil, errors.New("connection refused"))
	s.Refresh(context.Background())

	for i, id := range probe {
		assert.Equal(t, before[i], s.IsAllowed(id), id)
	}
	assert.Equal(t, []bool{true, false}, obs.results)
}

func TestSuccessfulRefreshReplacesSet(t *testing.T) {
	src := &fakeSource{rows: []Row{{Identifier: "aa"}}}
	s := NewStore(src, nil, zaptest.NewLogger(t).Sugar())
	s.Refresh(context.Background())
	require.True(t, s.IsAllowed("aa"))

	src.set([]Row{{Identifier: "bb"}}, nil)
	s.Refresh(context.Background())
	assert.False(t, s.IsAllowed("aa"))
	assert.True(t, s.IsAllowed("bb"))
}

func TestBootstrapWithoutSource(t *testing.T) {
	s := NewStore(nil, []string{"AA:BB", " "}, zaptest.NewLogger(t).Sugar())
	s.Refresh(context.Background())

	assert.Equal(t, 1, s.Size())
	assert.True(t, s.IsAllowed("aabb"))
	assert.False(t, s.IsAllowed("ccdd"))
}

func TestRunRefreshesOnTickAndInvalidation(t *testing.T) {
	src := invalidatingSource{&fakeSource{hints: make(chan struct{}, 1)}}
	s := NewStore(src, nil, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	src.set([]Row{{Identifier: "aa"}}, nil)
	src.hints <- struct{}{}

	assert.Eventually(t, func() bool { return s.IsAllowed("aa") && !s.IsAllowed("bb") }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunTicks(t *testing.T) {
	src := &fakeSource{}
	s := NewStore(src, nil, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return src.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestParseActive(t *testing.T) {
	assert.Equal(t, active(true), parseActive("TRUE"))
	assert.Equal(t, active(true), parseActive("1"))
	assert.Equal(t, active(false), parseActive(" false "))
	assert.Equal(t, active(false), parseActive("0"))
	assert.Nil(t, parseActive(""))

	rows := rowsFromHash(map[string]string{"aa": "0"})
	require.Len(t, rows, 1)
	assert.Equal(t, "aa", rows[0].Identifier)
	assert.Equal(t, active(false), rows[0].Active)
}
