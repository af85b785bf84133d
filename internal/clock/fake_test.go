package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFake_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	c.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })
	require.Equal(t, 3, c.Pending())

	c.Advance(150 * time.Millisecond)
	require.Equal(t, []int{1}, order)

	c.Advance(time.Second)
	require.Equal(t, []int{1, 2, 3}, order)
	require.Zero(t, c.Pending())
}

func TestFake_StopPreventsCallback(t *testing.T) {
	c := Fake(epoch)
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	require.False(t, called)
}

func TestFake_After(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}
	c.Advance(time.Minute)
	require.Equal(t, epoch.Add(time.Minute), <-ch)

	require.Equal(t, epoch.Add(time.Minute), <-c.After(0))
}
