package metadata

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	bracketed     = regexp.MustCompile(`\[[^\]]*\]`)
	separators    = regexp.MustCompile(`[-_]`)
	whitespace    = regexp.MustCompile(`\s+`)
	albumNote     = regexp.MustCompile(`\s*\([^)]*\)\s*`)
)

// Release annotations that hurt matching on catalogs which append them to
// song titles.
var annotationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*\(feat\.?\s+[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\[feat\.?\s+[^\]]*\]`),
	regexp.MustCompile(`(?i)\s*\(with\s+[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\(remix[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\[remix[^\]]*\]`),
	regexp.MustCompile(`(?i)\s*\(remaster(ed)?[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\(live[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\(acoustic[^)]*\)`),
	regexp.MustCompile(`(?i)\s*\(radio\s*edit\)`),
	regexp.MustCompile(`(?i)\s*\(explicit\)`),
	regexp.MustCompile(`(?i)\s*\(clean\)`),
}

// NormalizeTitle lowercases s, drops parenthetical and bracketed suffixes,
// turns '-' and '_' into spaces and collapses whitespace. Diacritics are
// folded so "Beyoncé" and "Beyonce" compare equal. If nothing is left, the
// lowercased input is returned instead.
func NormalizeTitle(s string) string {
	out := strings.ToLower(foldDiacritics(s))
	out = parenthetical.ReplaceAllString(out, "")
	out = bracketed.ReplaceAllString(out, "")
	out = separators.ReplaceAllString(out, " ")
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
	if out == "" {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// StripAnnotations removes featuring credits and release annotations such
// as "(Remastered 2009)" or "(Radio Edit)" before normalizing.
func StripAnnotations(s string) string {
	out := s
	for _, p := range annotationPatterns {
		out = p.ReplaceAllString(out, "")
	}
	if strings.TrimSpace(out) == "" {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return NormalizeTitle(out)
}

// CleanAlbumName removes parenthesized translations or edition notes from
// an album name while keeping its original casing.
func CleanAlbumName(s string) string {
	out := albumNote.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
