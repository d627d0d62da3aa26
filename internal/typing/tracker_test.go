package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/timer"
)

func newTracker(t *testing.T) (*Tracker, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC))
	return New("c1", 0, timer.New[Key](clk, nil)), clk
}

func TestSignalExpiresAfterTimeout(t *testing.T) {
	tr, clk := newTracker(t)

	assert.True(t, tr.OnSignal("c1", "u2", true))
	clk.Advance(2900 * time.Millisecond)
	assert.Equal(t, []string{"u2"}, tr.Snapshot("c1"))

	clk.Advance(200 * time.Millisecond)
	assert.Empty(t, tr.Snapshot("c1"))
}

func TestRefreshExtendsLifetime(t *testing.T) {
	tr, clk := newTracker(t)

	tr.OnSignal("c1", "u2", true)
	clk.Advance(2500 * time.Millisecond)
	assert.False(t, tr.OnSignal("c1", "u2", true), "refresh does not change the set")

	clk.Advance(2500 * time.Millisecond)
	assert.True(t, tr.Active("u2"))

	clk.Advance(600 * time.Millisecond)
	assert.False(t, tr.Active("u2"))
}

func TestStopRemovesImmediately(t *testing.T) {
	tr, clk := newTracker(t)

	tr.OnSignal("c1", "u2", true)
	assert.True(t, tr.OnSignal("c1", "u2", false))
	assert.Empty(t, tr.Snapshot("c1"))
	assert.Zero(t, clk.Pending(), "stop cancels the expiry timer")

	assert.False(t, tr.OnSignal("c1", "u2", false), "stop for an absent user is a no-op")
}

func TestOtherCaseIgnored(t *testing.T) {
	tr, clk := newTracker(t)

	assert.False(t, tr.OnSignal("c2", "u2", true))
	assert.Empty(t, tr.Snapshot("c1"))
	assert.Zero(t, clk.Pending())

	tr.OnSignal("c1", "u2", true)
	assert.Empty(t, tr.Snapshot("c2"))
}

func TestMultipleUsersExpireIndependently(t *testing.T) {
	tr, clk := newTracker(t)

	tr.OnSignal("c1", "u2", true)
	clk.Advance(time.Second)
	tr.OnSignal("c1", "u3", true)

	clk.Advance(2100 * time.Millisecond)
	assert.Equal(t, []string{"u3"}, tr.Snapshot("c1"))

	clk.Advance(time.Second)
	assert.Empty(t, tr.Snapshot("c1"))
}

func TestOnExpireHook(t *testing.T) {
	tr, clk := newTracker(t)
	var expired []Key
	tr.OnExpire = func(k Key) { expired = append(expired, k) }

	tr.OnSignal("c1", "u2", true)
	tr.OnSignal("c1", "u3", true)
	tr.OnSignal("c1", "u3", false)
	clk.Advance(DefaultTimeout)

	assert.Equal(t, []Key{{CaseID: "c1", UserID: "u2"}}, expired)
}

func TestResetCancelsTimers(t *testing.T) {
	tr, clk := newTracker(t)
	tr.OnSignal("c1", "u2", true)
	tr.OnSignal("c1", "u3", true)

	tr.Reset()
	assert.Empty(t, tr.Snapshot("c1"))
	assert.Zero(t, clk.Pending())
}

func TestCustomTimeout(t *testing.T) {
	clk := clock.Fake(time.Now())
	tr := New("c1", 500*time.Millisecond, timer.New[Key](clk, nil))

	tr.OnSignal("c1", "u2", true)
	clk.Advance(499 * time.Millisecond)
	assert.True(t, tr.Active("u2"))
	clk.Advance(time.Millisecond)
	assert.False(t, tr.Active("u2"))
}
