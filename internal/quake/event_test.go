package quake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFixed3(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{38, "38.000"},
		{27.12345, "27.123"},
		{0.0625, "0.063"},
		{-0.0625, "-0.063"},
		{1.0005, "1.000"},
		{-0.0001, "-0.000"},
		{0, "0.000"},
		{-179.9999, "-180.000"},
		{0.5, "0.500"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, toFixed3(tt.in), "toFixed3(%v)", tt.in)
	}
}

func TestSynthesizeID_Deterministic(t *testing.T) {
	a := SynthesizeID("2024-01-01T00:00:00.000Z", 38.00001, 27.00049)
	b := SynthesizeID("2024-01-01T00:00:00.000Z", 37.99999, 26.99951)

	assert.Equal(t, a, b)
	assert.Equal(t, "2024-01-01T00:00:00.000Z:38.000,27.000", a)
}

func TestSignature(t *testing.T) {
	e := Event{ID: "e1", Time: "2024-01-01T00:00:00.000Z", Magnitude: 4.2, Latitude: 38}
	revised := e
	revised.Magnitude = 4.5
	moved := e
	moved.Latitude = 39

	assert.NotEqual(t, e.Signature(), revised.Signature(), "magnitude change should produce a new signature")
	assert.Equal(t, e.Signature(), moved.Signature(), "coordinates are not part of the signature")
	assert.Equal(t, "e1::2024-01-01T00:00:00.000Z::4.2", e.Signature().String())
}
