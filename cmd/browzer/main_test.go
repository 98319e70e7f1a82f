package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic_WritesLog(t *testing.T) {
	t.Cleanup(resetMocks)

	var written string
	var code int
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()

	assert.Contains(t, written, "panic: boom")
	assert.Contains(t, written, "goroutine")
	assert.Equal(t, 2, code)
}

func TestHandlePanic_LogWriteFails(t *testing.T) {
	t.Cleanup(resetMocks)

	var code int
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
	osExit = func(c int) { code = c }

	func() {
		defer handlePanic()
		panic("boom")
	}()

	assert.Equal(t, 1, code)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	t.Cleanup(resetMocks)

	called := false
	osExit = func(int) { called = true }

	func() {
		defer handlePanic()
	}()

	assert.False(t, called)
}
