package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketcdn/service/internal/optimizer"
)

func TestGenerateKeyIsUnique(t *testing.T) {
	a := GenerateKey("photo.jpg")
	b := GenerateKey("photo.jpg")
	assert.NotEqual(t, a, b, "successive keys for the same filename must differ")
}

func TestGenerateKeyPreservesExtension(t *testing.T) {
	key := GenerateKey("Report Final.PDF")
	assert.True(t, strings.HasSuffix(key, ".pdf"), "got %q", key)
	assert.Contains(t, key, "Report_Final")
}

func TestGenerateKeyStripsTraversal(t *testing.T) {
	for _, name := range []string{
		"../../etc/passwd",
		`..\..\windows\system32\cmd.exe`,
		"/absolute/path/file.txt",
		"dir/../../sneaky.png",
	} {
		key := GenerateKey(name)
		assert.NotContains(t, key, "/", "name %q", name)
		assert.NotContains(t, key, `\`, "name %q", name)
		assert.False(t, strings.Contains(key, ".."), "name %q produced %q", name, key)
	}
}

func TestGenerateKeyHandlesMissingName(t *testing.T) {
	for _, name := range []string{"", ".", "/", "..."} {
		key := GenerateKey(name)
		require.NotEmpty(t, key, "name %q", name)
		assert.NotContains(t, key, "/")
	}
}

func TestGenerateKeyHandlesNoExtension(t *testing.T) {
	key := GenerateKey("README")
	assert.Contains(t, key, "-README")
	assert.False(t, strings.Contains(key, "."))
}

func TestGenerateKeySanitizesUnicode(t *testing.T) {
	key := GenerateKey("héllo wörld.png")
	assert.True(t, strings.HasSuffix(key, ".png"))
	for _, r := range key {
		assert.True(t, r < 128, "key %q contains non-ascii rune %q", key, r)
	}
}

func TestDerivativeKey(t *testing.T) {
	assert.Equal(t, "optimized-abc-photo.webp", DerivativeKey("abc-photo.jpg", optimizer.FormatWebP))
	assert.Equal(t, "optimized-abc-photo.avif", DerivativeKey("abc-photo.png", optimizer.FormatAVIF))
	assert.Equal(t, "optimized-noext.webp", DerivativeKey("noext", optimizer.FormatWebP))
}

func TestDerivativeKeyIsDeterministic(t *testing.T) {
	a := DerivativeKey("k.png", optimizer.FormatWebP)
	b := DerivativeKey("k.png", optimizer.FormatWebP)
	assert.Equal(t, a, b)
}
