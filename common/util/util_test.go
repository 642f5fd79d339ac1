package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRandomNumber(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := GetRandomNumber()
		assert.GreaterOrEqual(t, n, 111111)
		assert.Less(t, n, 999999)
	}
}

func TestColorForIsStable(t *testing.T) {
	assert.Equal(t, ColorFor("alice"), ColorFor("alice"))
	assert.Contains(t, presenceColors, ColorFor("bob"))
}
