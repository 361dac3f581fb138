// Package text prepares request text for synthesis: optional normalization and the
// length cap.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// MaxNumberForWords is the largest integer spelled out; larger ones are kept as digits.
	MaxNumberForWords = 999999
)

// Regex patterns for text normalization.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern     = `\d+(?:\.\d+)?`
	whitespaceRegexPattern = `\s+`
	placeholderDelimiter   = "\x00"
	placeholderMark        = "\x01"
)

// Normalizer rewrites text into a form the speech model reads aloud cleanly.
type Normalizer struct {
	tokenPatterns        []*regexp.Regexp
	numberPattern        *regexp.Regexp
	whitespacePattern    *regexp.Regexp
	abbreviationReplacer *strings.Replacer
	punctuationReplacer  *strings.Replacer
	numbers              *numberConverter
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
		"e.g.", "for example",
		"i.e.", "that is",
		"etc.", "etcetera",
	}

	return &Normalizer{
		tokenPatterns: []*regexp.Regexp{
			regexp.MustCompile(urlRegexPattern),
			regexp.MustCompile(emailRegexPattern),
		},
		numberPattern:        regexp.MustCompile(numberRegexPattern),
		whitespacePattern:    regexp.MustCompile(whitespaceRegexPattern),
		abbreviationReplacer: strings.NewReplacer(abbreviations...),
		punctuationReplacer: strings.NewReplacer(
			"—", " - ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
		numbers: newNumberConverter(),
	}
}

// Normalize expands abbreviations, spells out whole numbers, normalizes quotes, dashes and
// whitespace, and terminates the text with sentence punctuation. URLs and email
// addresses pass through untouched.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	protected, tokens := n.protectTokens(text)

	protected = n.abbreviationReplacer.Replace(protected)
	protected = n.punctuationReplacer.Replace(protected)
	protected = n.numberPattern.ReplaceAllStringFunc(protected, n.spellNumber)
	protected = n.whitespacePattern.ReplaceAllString(protected, " ")

	return ensureSentenceEnding(restoreTokens(protected, tokens))
}

func (n *Normalizer) protectTokens(text string) (string, []string) {
	var tokens []string

	for _, pattern := range n.tokenPatterns {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			tokens = append(tokens, match)

			return placeholder(len(tokens) - 1)
		})
	}

	return text, tokens
}

// placeholder contains no digits, letters or whitespace, so later passes leave it alone.
func placeholder(index int) string {
	return placeholderDelimiter + strings.Repeat(placeholderMark, index+1) + placeholderDelimiter
}

func restoreTokens(text string, tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, placeholder(i), tokens[i])
	}

	return text
}

// spellNumber spells whole numbers. Decimals and zero-padded numbers are left as
// written.
func (n *Normalizer) spellNumber(digits string) string {
	if strings.Contains(digits, ".") || (len(digits) > 1 && digits[0] == '0') {
		return digits
	}

	number, err := strconv.Atoi(digits)
	if err != nil {
		return digits
	}

	return n.numbers.toWords(number)
}

func ensureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)

	switch lastChar {
	case '.', '!', '?':
		return trimmed
	}

	if unicode.IsPunct(lastChar) && lastChar != '"' && lastChar != '\'' && lastChar != ')' {
		trimmed = strings.TrimRightFunc(trimmed, unicode.IsPunct)
	}

	return trimmed + "."
}

type numberConverter struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberConverter() *numberConverter {
	return &numberConverter{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (nc *numberConverter) underHundred(num int) string {
	switch {
	case num < numberBaseTen:
		return nc.ones[num]
	case num < numberBaseTwenty:
		return nc.teens[num-numberBaseTen]
	}

	result := nc.tens[num/numberBaseTen]
	if num%numberBaseTen > 0 {
		result += " " + nc.ones[num%numberBaseTen]
	}

	return result
}

func (nc *numberConverter) underThousand(num int) string {
	var parts []string

	if hundreds := num / numberBaseHundred; hundreds > 0 {
		parts = append(parts, nc.ones[hundreds]+" hundred")
	}

	if remainder := num % numberBaseHundred; remainder > 0 {
		parts = append(parts, nc.underHundred(remainder))
	}

	return strings.Join(parts, " ")
}

func (nc *numberConverter) toWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, nc.underThousand(thousands)+" thousand")
	}

	if remainder := number % numberBaseThousand; remainder > 0 {
		parts = append(parts, nc.underThousand(remainder))
	}

	return strings.Join(parts, " ")
}
