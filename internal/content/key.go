package content

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/pocketcdn/service/internal/optimizer"
)

// derivativePrefix marks derivative keys in the optimized tier.
const derivativePrefix = "optimized-"

var baseSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// GenerateKey produces a globally unique storage key for an upload:
// "<uuid>-<sanitized base><ext>". The original filename is untrusted — it is
// reduced to its path base and stripped of anything that is not
// [a-zA-Z0-9._-], so the key contains no traversal sequences. The extension
// (lowercased) is preserved for content-type inference. Never fails: a
// filename with no usable base yields "<uuid><ext>".
func GenerateKey(originalFilename string) string {
	// Normalize both separator styles before taking the base.
	name := strings.ReplaceAll(originalFilename, `\`, "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		name = ""
	}

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = baseSanitizer.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._-")
	ext = baseSanitizer.ReplaceAllString(ext, "")
	if ext != "" {
		ext = "." + strings.TrimLeft(ext, ".")
	}

	id := uuid.NewString()
	if base == "" {
		return id + ext
	}
	return id + "-" + base + ext
}

// DerivativeKey computes the optimized-tier key for a source key: the
// "optimized-" prefix plus the source key with its extension replaced by the
// derivative format's. Pure function of its inputs, so derivative lookups
// need no index.
func DerivativeKey(sourceKey string, format optimizer.Format) string {
	ext := filepath.Ext(sourceKey)
	return derivativePrefix + strings.TrimSuffix(sourceKey, ext) + format.Ext()
}
