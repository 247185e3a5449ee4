package heuristic

import (
	"strings"

	"golang.org/x/net/idna"
)

var confusableRunes = map[rune]rune{
	// Cyrillic
	'а': 'a', 'в': 'b', 'е': 'e', 'һ': 'h', 'і': 'i', 'ј': 'j', 'к': 'k',
	'ӏ': 'l', 'м': 'm', 'п': 'n', 'о': 'o', 'р': 'p', 'ԛ': 'q', 'г': 'r',
	'ѕ': 's', 'т': 't', 'ս': 'u', 'ѵ': 'v', 'ѡ': 'w', 'х': 'x', 'у': 'y',
	'ԁ': 'd', 'с': 'c',
	// Greek
	'α': 'a', 'β': 'b', 'ε': 'e', 'ι': 'i', 'κ': 'k', 'ν': 'v', 'ο': 'o',
	'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x', 'γ': 'y', 'ζ': 'z', 'ω': 'w',
	// Latin with diacritics
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a', 'ɑ': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e', 'ē': 'e', 'ė': 'e', 'ę': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i', 'ī': 'i', 'ı': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u', 'ū': 'u',
	'ç': 'c', 'ć': 'c', 'č': 'c', 'ñ': 'n', 'ń': 'n', 'ş': 's', 'š': 's',
	'ý': 'y', 'ÿ': 'y', 'ž': 'z', 'ż': 'z', 'ĺ': 'l', 'ļ': 'l', 'ɡ': 'g',
}

// foldHomoglyphs decodes punycode labels and maps look-alike runes to ASCII.
// ok is false when the decoded host is plain ASCII.
func foldHomoglyphs(host string) (decoded, folded string, ok bool) {
	decoded = host
	if strings.Contains(host, "xn--") {
		if u, err := idna.ToUnicode(host); err == nil {
			decoded = strings.ToLower(u)
		}
	}
	ascii := true
	for _, r := range decoded {
		if r > 127 {
			ascii = false
			break
		}
	}
	if ascii {
		return decoded, decoded, false
	}

	var b strings.Builder
	b.Grow(len(decoded))
	for _, r := range decoded {
		if mapped, found := confusableRunes[r]; found {
			b.WriteRune(mapped)
			continue
		}
		b.WriteRune(r)
	}
	return decoded, b.String(), true
}
