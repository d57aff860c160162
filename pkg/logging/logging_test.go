package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplerAdmitsEveryNth(t *testing.T) {
	s := NewSampler(3)

	got := make([]bool, 0, 6)
	for i := 0; i < 6; i++ {
		got = append(got, s.Allow())
	}
	assert.Equal(t, []bool{true, false, false, true, false, false}, got)
}

func TestSamplerOfOneAdmitsEverything(t *testing.T) {
	s := NewSampler(1)
	for i := 0; i < 5; i++ {
		assert.True(t, s.Allow())
	}
}

func TestSamplerClampsInvalidRate(t *testing.T) {
	s := NewSampler(0)
	assert.True(t, s.Allow())
	assert.True(t, s.Allow())
}
