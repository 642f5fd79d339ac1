package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeReleasesInReverseOnce(t *testing.T) {
	var order []int
	var s Scope
	for i := 1; i <= 3; i++ {
		s.Add(func() { order = append(order, i) })
	}
	s.Add(nil)
	assert.Equal(t, 3, s.Len())

	s.Close()
	s.Close()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Zero(t, s.Len())
}

func TestScopeAddAfterCloseReleasesImmediately(t *testing.T) {
	var s Scope
	s.Close()

	released := false
	s.Add(func() { released = true })

	assert.True(t, released)
}

func TestSignalUnsubscribe(t *testing.T) {
	var sig signal[int]
	var got []int
	unsubscribe := sig.Subscribe(func(v int) { got = append(got, v) })
	sig.Subscribe(func(v int) { got = append(got, v*10) })

	sig.emit(1)
	unsubscribe()
	unsubscribe()
	sig.emit(2)

	assert.Equal(t, []int{1, 10, 20}, got)
	assert.Equal(t, 1, sig.count())
}
