package validation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"plain flag", "--no-source-map", false},
		{"relative path", "./styles", false},
		{"semicolon injection", "a; rm -rf /", true},
		{"pipe injection", "a | cat /etc/passwd", true},
		{"backtick", "a`whoami`", true},
		{"path traversal", "../../etc/passwd", true},
		{"absolute path", "/home/user/file", true},
		{"system binary", "/usr/bin/sass", false},
		{"command substitution", "file$(id).css", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowed := []string{"sass", "postcss"}

	assert.NoError(t, ValidateCommand("sass", allowed))
	assert.NoError(t, ValidateCommand("/usr/bin/sass", allowed))
	assert.Error(t, ValidateCommand("", allowed))
	assert.Error(t, ValidateCommand("sh", allowed))
	assert.Error(t, ValidateCommand("sass;id", allowed))
}

func TestWithinRoot(t *testing.T) {
	root := t.TempDir()

	got, err := WithinRoot(root, "css/app.css")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "css", "app.css"), got)

	got, err = WithinRoot(root, filepath.Join(root, "index.js"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "index.js"), got)

	_, err = WithinRoot(root, "../outside.txt")
	assert.Error(t, err)

	_, err = WithinRoot(root, "a/../../outside.txt")
	assert.Error(t, err)

	// A sibling sharing the root as a name prefix is still outside.
	_, err = WithinRoot(root, root+"-evil/x")
	assert.Error(t, err)
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"example.test:8080"}

	assert.NoError(t, ValidateOrigin("http://localhost:7777", nil))
	assert.NoError(t, ValidateOrigin("http://127.0.0.1:3000", nil))
	assert.NoError(t, ValidateOrigin("https://example.test:8080", allowed))
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("https://evil.test", allowed))
	assert.Error(t, ValidateOrigin("file:///etc/passwd", allowed))
}

func TestValidateBrowserURL(t *testing.T) {
	assert.NoError(t, ValidateBrowserURL("http://localhost:7777"))
	assert.NoError(t, ValidateBrowserURL("https://example.com/path?x=1"))
	assert.Error(t, ValidateBrowserURL("javascript:alert(1)"))
	assert.Error(t, ValidateBrowserURL("http://"))
	assert.Error(t, ValidateBrowserURL("http://localhost:7777; rm -rf /"))
	assert.Error(t, ValidateBrowserURL("http://localhost:7777/$(id)"))
}
