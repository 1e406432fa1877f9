package tenancy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength is the longest token Slugify produces
const MaxSlugLength = 50

// SyntheticDomainSuffix marks identifiers minted for staff members
const SyntheticDomainSuffix = ".internal"

// maxLabelLength is the DNS limit for a single label
const maxLabelLength = 63

var (
	whitespaceRun = regexp.MustCompile(`[\s\p{Zs}]+`)
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9_-]+`)
	nonLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRun     = regexp.MustCompile(`-{2,}`)
)

// Slugify turns free text into a lowercase, hyphenated token. It never fails
// and returns an empty string for empty input.
func Slugify(text string) string {
	s := strings.TrimSpace(strings.ToLower(text))
	if s == "" {
		return ""
	}

	s = foldDiacritics(s)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = nonSlugChars.ReplaceAllString(s, "")
	s = hyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	return s
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// DeriveUsername builds the username a member types at login
func DeriveUsername(tenantSlug, memberName string) string {
	return fmt.Sprintf("%s-%s", tenantSlug, Slugify(memberName))
}

// DeriveLoginIdentifier builds the email shaped identifier registered at the
// identity provider. It is never a deliverable mailbox. The domain part is
// TenantLabel(tenantID).
func DeriveLoginIdentifier(username, tenantID string) string {
	return fmt.Sprintf("%s@%s%s", username, TenantLabel(tenantID), SyntheticDomainSuffix)
}

// TenantLabel encodes a tenant id as a DNS label. Ids that already are
// lowercase labels, such as "tenant-1", pass through unchanged.
//
//	TenantLabel("auth0|64F1C2") // "auth0-64f1c2"
func TenantLabel(tenantID string) string {
	s := nonLabelChars.ReplaceAllString(strings.ToLower(tenantID), "-")
	s = hyphenRun.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxLabelLength {
		s = strings.TrimRight(s[:maxLabelLength], "-")
	}
	if s == "" {
		return "tenant"
	}
	return s
}

// DeriveMemberIdentifier is DeriveLoginIdentifier(DeriveUsername(slug, name), tenantID)
func DeriveMemberIdentifier(tenantSlug, memberName, tenantID string) string {
	return DeriveLoginIdentifier(DeriveUsername(tenantSlug, memberName), tenantID)
}

// IsSyntheticIdentifier reports whether identifier carries the synthetic
// suffix. Only used for diagnostics, roles come from the directory.
func IsSyntheticIdentifier(identifier string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(identifier)), SyntheticDomainSuffix)
}

// SplitLoginIdentifier extracts the username and the tenant label from a
// synthetic identifier. Members are looked up by principal id, never by label.
func SplitLoginIdentifier(identifier string) (username, tenantLabel string, ok bool) {
	if !IsSyntheticIdentifier(identifier) {
		return "", "", false
	}
	at := strings.LastIndex(identifier, "@")
	if at <= 0 {
		return "", "", false
	}
	username = identifier[:at]
	tenantLabel = identifier[at+1 : len(identifier)-len(SyntheticDomainSuffix)]
	if tenantLabel == "" {
		return "", "", false
	}
	return username, tenantLabel, true
}

// CandidateSlugs returns every hyphen delimited prefix of username that
// leaves a non empty member part, longest first.
//
//	CandidateSlugs("nach-barbershop-lean") // ["nach-barbershop", "nach"]
func CandidateSlugs(username string) []string {
	username = strings.ToLower(strings.TrimSpace(username))
	var out []string
	for i := len(username) - 1; i > 0; i-- {
		if username[i] != '-' {
			continue
		}
		prefix := strings.TrimRight(username[:i], "-")
		rest := strings.Trim(username[i+1:], "-")
		if prefix == "" || rest == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == prefix {
			continue
		}
		out = append(out, prefix)
	}
	return out
}
