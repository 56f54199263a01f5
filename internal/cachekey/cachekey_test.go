package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

type placeSearch struct {
	Query    string  `json:"query"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Radius   int     `json:"radius"`
	Language string  `json:"language,omitempty"`
}

func TestDerive_KnownVector(t *testing.T) {
	// sha256("s:abc")
	assert.Equal(t, "efff0385da714c8573aaf55138e8a03080e2d5666a680a6b017643d379019835", Derive("abc"))
	// sha256(`j:{"q":"x"}`)
	assert.Equal(t, "17f88cc3ad9c0ffc6886a5e2eaa9ceb8c67a2326108752e46e7eb22297816a1c", Derive(map[string]string{"q": "x"}))
}

func TestDerive_MapOrderIndependent(t *testing.T) {
	a := map[string]any{"query": "museum", "lat": 48.85, "lng": 2.35}
	b := map[string]any{"lng": 2.35, "query": "museum", "lat": 48.85}
	assert.Equal(t, Derive(a), Derive(b))
}

func TestDerive_DistinguishesContent(t *testing.T) {
	base := placeSearch{Query: "museum", Lat: 48.85, Lng: 2.35, Radius: 500}
	changed := base
	changed.Radius = 501

	assert.NotEqual(t, Derive(base), Derive(changed))
	assert.NotEqual(t, Derive("1"), Derive(1), "string and number inputs must not collide")
	assert.NotEqual(t, Derive(`{"q":"x"}`), Derive(map[string]string{"q": "x"}))
	assert.NotEqual(t, Derive("true"), Derive(true))
	assert.Equal(t, Derive("abc"), Derive([]byte("abc")))
	assert.NotEqual(t, Derive("abc"), DeriveParts("abc"))
}

func TestDerive_Unserializable(t *testing.T) {
	ch := make(chan int)
	key := Derive(map[string]any{"ch": ch})
	assert.True(t, Valid(key))
}

func TestDeriveParts(t *testing.T) {
	assert.Equal(t, DeriveParts("place-1", "400"), DeriveParts("place-1", "400"))
	assert.NotEqual(t, DeriveParts("a\x1fb", "c"), DeriveParts("a", "b\x1fc"))
	assert.NotEqual(t, DeriveParts("ab", ""), DeriveParts("a", "b"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Derive("x")))
	assert.False(t, Valid("short"))
	assert.False(t, Valid("../../../../etc/passwd"+Derive("x")[22:]))
}

func TestDerive_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := placeSearch{
			Query:  rapid.String().Draw(t, "query"),
			Lat:    rapid.Float64Range(-90, 90).Draw(t, "lat"),
			Lng:    rapid.Float64Range(-180, 180).Draw(t, "lng"),
			Radius: rapid.IntRange(0, 50000).Draw(t, "radius"),
		}

		key := Derive(in)
		if key != Derive(in) {
			t.Fatalf("derive is not deterministic for %+v", in)
		}
		if !Valid(key) {
			t.Fatalf("derived key %q is not valid", key)
		}

		other := in
		other.Radius++
		if Derive(other) == key {
			t.Fatalf("different radius produced the same key")
		}
	})
}
