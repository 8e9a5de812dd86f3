// Package merchant turns free-text statement descriptions into comparable
// merchant identities.
//
// ParseMerchantName strips transactional prefixes, trailing reference codes
// and parenthetical numbers, and expands known abbreviations.
// BaseKey reduces a description to a casefolded comparison key.
// IsSameMerchant compares two descriptions with a graduated fallback:
// identical base keys, identical first tokens, shared abbreviation, and
// finally Levenshtein similarity on short keys or first tokens.
package merchant

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// SimilarityThreshold is the minimum similarity for a fuzzy merchant match.
const SimilarityThreshold = 0.85

const (
	minFirstTokenLen = 3
	minFuzzyTokenLen = 4
	maxFuzzyKeyLen   = 15
)

// transactionalPrefixes are stripped from the start of a description,
// longest first so that "העברה לחשבון" wins over "העברה".
var transactionalPrefixes = []string{
	"חיוב כרטיס אשראי",
	"credit card charge",
	"standing order to",
	"standing order",
	"direct debit to",
	"direct debit",
	"transfer to",
	"transfer from",
	"payment to",
	"pos purchase",
	"card purchase",
	"bank transfer",
	"הוראת קבע ל",
	"הוראת קבע",
	"חיוב כרטיס",
	"העברה ל",
	"העברה מ",
	"תשלום ל",
	"הו\"ק ל",
	"הו\"ק",
}

// abbreviations maps casefolded abbreviations to merchant names.
var abbreviations = map[string]string{
	"amzn":           "Amazon",
	"amzn mktp":      "Amazon",
	"amazon.com":     "Amazon",
	"goog":           "Google",
	"google *gsuite": "Google",
	"msft":           "Microsoft",
	"pypl":           "PayPal",
	"fb":             "Facebook",
	"fbpay":          "Facebook",
	"apl":            "Apple",
	"apple.com/bill": "Apple",
	"wix.com":        "Wix",
	"ms":             "Microsoft",
	"bzq":            "Bezeq",
	"ie":             "Israel Electric",
	"iec":            "Israel Electric",
}

// corporateSuffixes are tail tokens that carry no merchant identity.
var corporateSuffixes = map[string]bool{
	"ltd": true, "inc": true, "llc": true, "co": true, "com": true, "corp": true,
	"gmbh": true, "il": true, "us": true, "uk": true, "bv": true,
	"בעמ": true, "בע": true, "מ": true,
}

var (
	starReference    = regexp.MustCompile(`\s*\*.*$`)
	dashReference    = regexp.MustCompile(`\s+-\s*[\p{L}\p{N}]*\p{N}[\p{L}\p{N}]*$`)
	digitRunSuffix   = regexp.MustCompile(`\s+#?\d{5,}\S*$`)
	parentheticalNum = regexp.MustCompile(`\s*\(\s*\d+\s*\)\s*$`)
)

// ParseMerchantName cleans a statement description down to a merchant name.
// It falls back to the trimmed description when cleaning leaves nothing.
func ParseMerchantName(description string) string {
	original := strings.TrimSpace(description)
	if original == "" {
		return ""
	}

	if expanded, ok := abbreviations[strings.ToLower(original)]; ok {
		return expanded
	}

	name := stripPrefix(original)
	name = stripReferences(name)
	name = expandAbbreviations(name)
	name = strings.TrimSpace(name)

	if name == "" {
		return original
	}
	return name
}

// stripPrefix removes the first transactional prefix that ends on a word
// boundary. Prefixes ending in a one-letter Hebrew preposition attach to the
// next word, so they need no boundary.
func stripPrefix(s string) string {
	for _, prefix := range transactionalPrefixes {
		rest, ok := cutPrefixFold(s, prefix)
		if !ok || !endsWord(prefix, rest) {
			continue
		}
		if rest = strings.TrimLeft(rest, " -:'"); rest != "" {
			return rest
		}
	}
	return s
}

// cutPrefixFold is strings.CutPrefix with a casefolded match against a
// lowercase prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	n := 0
	for _, want := range prefix {
		r, size := utf8.DecodeRuneInString(s[n:])
		if size == 0 || unicode.ToLower(r) != want {
			return "", false
		}
		n += size
	}
	return s[n:], true
}

func endsWord(prefix, rest string) bool {
	r, _ := utf8.DecodeRuneInString(rest)
	if rest == "" || (!unicode.IsLetter(r) && !unicode.IsDigit(r)) {
		return true
	}
	last := prefix[strings.LastIndexByte(prefix, ' ')+1:]
	p, _ := utf8.DecodeRuneInString(last)
	return runeLen(last) == 1 && unicode.Is(unicode.Hebrew, p)
}

func stripReferences(s string) string {
	for {
		before := s
		s = starReference.ReplaceAllString(s, "")
		s = dashReference.ReplaceAllString(s, "")
		s = digitRunSuffix.ReplaceAllString(s, "")
		s = parentheticalNum.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == before || s == "" {
			return s
		}
	}
}

func expandAbbreviations(s string) string {
	if expanded, ok := abbreviations[strings.ToLower(s)]; ok {
		return expanded
	}
	tokens := strings.Fields(s)
	for i, tok := range tokens {
		if expanded, ok := abbreviations[strings.ToLower(tok)]; ok {
			tokens[i] = expanded
		}
	}
	return strings.Join(tokens, " ")
}

// normalizeTokens casefolds s and splits it on anything that is not a
// letter or digit.
func normalizeTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BaseKey returns the comparison key for a description: the casefolded,
// punctuation-free parsed name, or just its first token when the first token
// is long enough and the rest looks like a reference or corporate suffix.
func BaseKey(description string) string {
	tokens := normalizeTokens(ParseMerchantName(description))
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) > 1 && runeLen(tokens[0]) >= minFirstTokenLen && looksLikeReferenceTail(tokens[1:]) {
		return tokens[0]
	}
	return strings.Join(tokens, "")
}

func looksLikeReferenceTail(tokens []string) bool {
	for _, tok := range tokens {
		if corporateSuffixes[tok] || runeLen(tok) <= 2 || hasDigit(tok) {
			continue
		}
		return false
	}
	return true
}

// IsSameMerchant reports whether two descriptions name the same merchant.
// It is symmetric in its arguments.
func IsSameMerchant(a, b string) bool {
	keyA, keyB := BaseKey(a), BaseKey(b)
	if keyA == "" || keyB == "" {
		return false
	}
	if keyA == keyB {
		return true
	}

	tokensA := normalizeTokens(ParseMerchantName(a))
	tokensB := normalizeTokens(ParseMerchantName(b))
	firstA, firstB := tokensA[0], tokensB[0]

	if runeLen(firstA) >= minFirstTokenLen && firstA == firstB {
		return true
	}

	if abbrA, abbrB := abbreviationOf(firstToken(a)), abbreviationOf(firstToken(b)); abbrA != "" && abbrA == abbrB {
		return true
	}

	joinedA, joinedB := strings.Join(tokensA, ""), strings.Join(tokensB, "")
	if runeLen(joinedA) <= maxFuzzyKeyLen && runeLen(joinedB) <= maxFuzzyKeyLen &&
		Similarity(joinedA, joinedB) >= SimilarityThreshold {
		return true
	}

	if runeLen(firstA) >= minFuzzyTokenLen && runeLen(firstB) >= minFuzzyTokenLen &&
		Similarity(firstA, firstB) >= SimilarityThreshold {
		return true
	}

	return false
}

// firstToken returns the first normalized token of the raw description,
// before abbreviation expansion.
func firstToken(description string) string {
	tokens := normalizeTokens(stripPrefix(strings.TrimSpace(description)))
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

// abbreviationOf returns the casefolded merchant a token abbreviates, or
// the token itself when it already is a known merchant name.
func abbreviationOf(token string) string {
	if token == "" {
		return ""
	}
	if expanded, ok := abbreviations[token]; ok {
		return strings.ToLower(expanded)
	}
	for _, name := range abbreviations {
		if strings.ToLower(name) == token {
			return token
		}
	}
	return ""
}

// Similarity returns 1 - editDistance(a, b) / max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	maxLen := runeLen(a)
	if l := runeLen(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
