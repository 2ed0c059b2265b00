package sanitize

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestName_ShouldNeutralizeTraversalSequences(t *testing.T) {
	got := Name("../../etc/passwd")

	assert.NotContains(t, got, "..")
	assert.NotContains(t, got, "/")
	assert.Equal(t, "etc-passwd", got)
}

func TestName_ShouldKeepOrdinaryNames(t *testing.T) {
	assert.Equal(t, "holiday-photo.jpg", Name("holiday photo.jpg"))
	assert.Equal(t, "report_2026.pdf", Name("report_2026.pdf"))
}

func TestName_ShouldStripUnsafeRunes(t *testing.T) {
	got := Name("we<ird>na|me?.png")

	assert.Equal(t, "weirdname.png", got)
}

func TestName_ShouldLowercaseExtensionOnly(t *testing.T) {
	got := Name("Invoice.PDF")

	assert.Equal(t, "Invoice.pdf", got)
}

func TestName_ShouldCollapseRepeatedSeparators(t *testing.T) {
	got := Name("a---b___c.txt")

	assert.Equal(t, "a-b_c.txt", got)
}

func TestName_ShouldBoundLength(t *testing.T) {
	got := Name(strings.Repeat("a", 300) + ".jpg")

	assert.LessOrEqual(t, len(got), maxNameLength+len(".jpg"))
	assert.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestName_ShouldGenerateFallbackWhenNothingSurvives(t *testing.T) {
	got := Name("日本語ファイル")

	assert.True(t, strings.HasPrefix(got, "file-"))
	assert.Len(t, got, len("file-")+8)
}

func TestName_EmptyInputGetsFallback(t *testing.T) {
	got := Name("")

	assert.True(t, strings.HasPrefix(got, "file-"))
}

func TestStorageName_Format(t *testing.T) {
	got := StorageName(".JPG")

	matched := regexp.MustCompile(`^\d{14}_[0-9a-f]{8}\.jpg$`).MatchString(got)
	assert.True(t, matched, "unexpected storage name %q", got)
}

func TestStorageName_WithoutExtension(t *testing.T) {
	got := StorageName("")

	matched := regexp.MustCompile(`^\d{14}_[0-9a-f]{8}$`).MatchString(got)
	assert.True(t, matched, "unexpected storage name %q", got)
}

func TestStorageName_NeverRepeats(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		name := StorageName("png")
		assert.False(t, seen[name])
		seen[name] = true
	}
}
