package ratelimiter

import (
	"testing"
	"time"
)

func TestBurstThenLimit(t *testing.T) {
	t.Parallel()

	l := New(1, 2, time.Minute)
	now := time.Now()

	if !l.Allow("community:c1", now) || !l.Allow("community:c1", now) {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("community:c1", now) {
		t.Fatal("third send in the same instant should be limited")
	}
	if !l.Allow("community:c1", now.Add(time.Second)) {
		t.Fatal("token should refill after one second")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(1, 1, time.Minute)
	now := time.Now()

	if !l.Allow("community:c1", now) {
		t.Fatal("first key should be allowed")
	}
	if !l.Allow("community:c2", now) {
		t.Fatal("second key should have its own bucket")
	}
}

func TestNilAndBlankAllowEverything(t *testing.T) {
	t.Parallel()

	var l *KeyLimiter
	if !l.Allow("anything", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
	if limited := New(1, 1, time.Minute); !limited.Allow("  ", time.Now()) {
		t.Fatal("blank key must bypass limiting")
	}
}

func TestInvalidArgsYieldNil(t *testing.T) {
	t.Parallel()

	if New(0, 1, time.Minute) != nil || New(1, 0, time.Minute) != nil {
		t.Fatal("invalid limiter args should yield nil")
	}
}
