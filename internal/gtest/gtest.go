// Package gtest contains helpers shared across tests in this module.
package gtest

import (
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger that writes through t.Log,
// so output is only shown for failing tests or with go test -v.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t)
}

// timeFactor scales every timeout in this package.
// Slow CI machines can set GSEQ_TEST_TIME_FACTOR=5, for example.
var timeFactor = func() int64 {
	s := os.Getenv("GSEQ_TEST_TIME_FACTOR")
	if s == "" {
		return 1
	}
	f, err := strconv.ParseInt(s, 10, 64)
	if err != nil || f < 1 {
		panic("GSEQ_TEST_TIME_FACTOR must be a positive integer")
	}
	return f
}()

// ScaleMs returns ms milliseconds, scaled by GSEQ_TEST_TIME_FACTOR.
func ScaleMs(ms int64) time.Duration {
	return time.Duration(ms*timeFactor) * time.Millisecond
}

// ReceiveSoon receives a value from ch within a short default timeout,
// failing the test otherwise.
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()
	return ReceiveOrTimeout(t, ch, ScaleMs(500))
}

// ReceiveOrTimeout receives a value from ch within d,
// failing the test otherwise.
func ReceiveOrTimeout[T any](t testing.TB, ch <-chan T, d time.Duration) T {
	t.Helper()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", d)
	}

	panic("unreachable")
}

// SendSoon sends v on ch within a short default timeout,
// failing the test otherwise.
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(500))
	defer timer.Stop()

	select {
	case ch <- v:
		// Okay.
	case <-timer.C:
		t.Fatalf("could not send value within %s", ScaleMs(500))
	}
}

// NotSending fails the test if a value is immediately available on ch.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, received %v", v)
	default:
		// Okay.
	}
}

// NotSendingSoon fails the test if a value arrives on ch within a short window.
// Use this to assert that something never happens, e.g. a completion that must stay silent.
func NotSendingSoon[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScaleMs(50))
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, received %v", v)
	case <-timer.C:
		// Okay.
	}
}
