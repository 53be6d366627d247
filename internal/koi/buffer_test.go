package koi_test

import (
	"encoding/binary"
	"testing"

	"github.com/dantte-lp/koisyn/internal/koi"
)

func TestNewReliableBufferEncodesLength(t *testing.T) {
	t.Parallel()

	payload := []byte("hello")
	buf, err := koi.NewReliableBuffer(payload)
	if err != nil {
		t.Fatalf("NewReliableBuffer: %v", err)
	}

	wire := buf.Wire()
	gotLen := binary.BigEndian.Uint32(wire[:4])
	if int(gotLen) != len(payload) {
		t.Errorf("prefix length = %d, want %d", gotLen, len(payload))
	}
	if string(wire[4:]) != string(payload) {
		t.Errorf("payload = %q, want %q", wire[4:], payload)
	}
}

func TestNewReliableBufferRejectsOversizePayload(t *testing.T) {
	t.Parallel()

	_, err := koi.NewReliableBuffer(make([]byte, koi.MaxReliablePayload+1))
	if err == nil {
		t.Fatal("expected error for payload exceeding MaxReliablePayload")
	}

	_, err = koi.NewReliableBuffer(make([]byte, koi.MaxReliablePayload))
	if err != nil {
		t.Errorf("payload of exactly MaxReliablePayload should succeed: %v", err)
	}
}

func TestUnreliableBufferEncodesPacketNumber(t *testing.T) {
	t.Parallel()

	buf := koi.NewUnreliableBuffer(42, []byte("ping"))
	gotNum := binary.BigEndian.Uint32(buf.Wire()[:4])
	if gotNum != 42 {
		t.Errorf("prefix packet number = %d, want 42", gotNum)
	}
}

func TestRawSendBufferTwoPassRefcount(t *testing.T) {
	t.Parallel()

	buf := koi.NewUnreliableBuffer(0, []byte("x"))

	// Two-pass submission protocol (§9): retain once per destination
	// handle before any submission is issued.
	buf.Retain(2)
	if got := buf.RefCount(); got != 2 {
		t.Fatalf("RefCount after Retain(2) = %d, want 2", got)
	}
	if buf.Released() {
		t.Fatal("buffer should not be released while refcount > 0")
	}

	buf.Release()
	if buf.Released() {
		t.Fatal("buffer should not be released after only one of two completions")
	}

	buf.Release()
	if !buf.Released() {
		t.Fatal("buffer should be released once refcount reaches zero")
	}
}

func TestRawSendBufferAbandon(t *testing.T) {
	t.Parallel()

	buf := koi.NewUnreliableBuffer(0, []byte("x"))
	buf.Retain(2)

	// Neither destination handle existed (both nil): unwind the
	// speculative retain in one step.
	buf.Abandon(2)
	if !buf.Released() {
		t.Fatal("buffer should be released after abandoning all speculative retains")
	}
}
