// Package textnorm holds the text rules shared by ingestion, retrieval and
// evaluation: whitespace normalisation, content hashes, language detection
// and parsing of staged question/answer chunks.
package textnorm

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// space matches Unicode whitespace; RE2's \s is ASCII only.
const space = `[\s\p{Z}\x{85}]`

var (
	whitespaceRe = regexp.MustCompile(space + `+`)
	bulletRe     = regexp.MustCompile(`^[\-•*]+` + space + `*`)
	answerMarker = regexp.MustCompile(`Ответ:` + space + `*`)
	questionTag  = regexp.MustCompile(`^Вопрос:` + space + `*`)
)

// Normalize trims s and collapses every whitespace run to a single space.
func Normalize(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// StripBullet normalises s and removes a leading list bullet.
// LLM paraphrase replies often come back as "- text" or "• text".
func StripBullet(s string) string {
	return bulletRe.ReplaceAllString(Normalize(s), "")
}

// SHA1Hex returns the lowercase hex SHA-1 of s.
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// AnswerHash is the uniqueness key of an answer text.
func AnswerHash(answer string) string {
	return SHA1Hex(strings.ToLower(Normalize(answer)))
}

// PhraseHash is the uniqueness key of a search phrase bound to an answer.
func PhraseHash(answerID int64, phrase string) string {
	return SHA1Hex(fmt.Sprintf("%d|%s", answerID, strings.ToLower(phrase)))
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// IsShortPhrase reports whether s has at most maxChars runes or at most
// maxWords words.
func IsShortPhrase(s string, maxChars, maxWords int) bool {
	return utf8.RuneCountInString(s) <= maxChars || WordCount(s) <= maxWords
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ParseChunk splits a staged chunk of the form "Вопрос: ... Ответ: ..." into
// its question and answer. A chunk without an answer marker is all answer.
func ParseChunk(chunk string) (question, answer string) {
	parts := answerMarker.Split(chunk, 2)
	if len(parts) != 2 {
		return "", Normalize(chunk)
	}
	question = questionTag.ReplaceAllString(parts[0], "")
	return Normalize(question), Normalize(parts[1])
}
