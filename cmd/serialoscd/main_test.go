package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunRejectsMissingTTYPath(t *testing.T) {
	code := run(nil)
	assert.Equal(t, 1, code)
}

func TestRunRejectsNonexistentTTYPath(t *testing.T) {
	code := run([]string{"/nonexistent/device/path/for/test"})
	assert.Equal(t, 1, code)
}

func TestRunPrintsVersion(t *testing.T) {
	code := run([]string{"-V"})
	assert.Equal(t, 0, code)

	code = run([]string{"--version"})
	assert.Equal(t, 0, code)
}
