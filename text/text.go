// Package text contains routines to tokenize sentences and map them to sequences of word indexes.
package text

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Reserved words at the start of every vocabulary.
const (
	PadWord     = "<PAD/>"
	UnknownWord = "<UNK/>"
)

var ideographs = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul}

// Tokenize splits a sentence into lower case words. Each CJK character is a separate token, as are
// the punctuation marks ! ? , ( and ). Other punctuation and white space separates words.
func Tokenize(s string) []string {
	s = width.Fold.String(norm.NFKC.String(s))
	s = cases.Lower(language.Und).String(s)
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.In(r, ideographs...):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			word.WriteRune(r)
		case strings.ContainsRune("!?,()", r):
			flush()
			tokens = append(tokens, string(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Pad truncates or right pads each sentence with PadWord so they all have the given length.
func Pad(sentences [][]string, length int) [][]string {
	padded := make([][]string, len(sentences))
	for i, s := range sentences {
		if len(s) > length {
			s = s[:length]
		}
		p := make([]string, length)
		copy(p, s)
		for j := len(s); j < length; j++ {
			p[j] = PadWord
		}
		padded[i] = p
	}
	return padded
}

// Vocabulary maps words to indexes. Index 0 is PadWord and 1 is UnknownWord, the remaining words are
// in order of descending frequency.
type Vocabulary struct {
	words []string
	index map[string]int32
}

// NewVocabulary builds the vocabulary from a set of tokenized sentences. Words with the same count
// are sorted lexically so the result does not depend on the input order.
func NewVocabulary(sentences [][]string) *Vocabulary {
	counts := make(map[string]int)
	for _, s := range sentences {
		for _, w := range s {
			if w != PadWord && w != UnknownWord {
				counts[w]++
			}
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		ci, cj := counts[words[i]], counts[words[j]]
		if ci != cj {
			return ci > cj
		}
		return words[i] < words[j]
	})
	return newVocabulary(append([]string{PadWord, UnknownWord}, words...))
}

func newVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{words: words, index: make(map[string]int32, len(words))}
	for i, w := range words {
		v.index[w] = int32(i)
	}
	return v
}

// Len returns the number of words including the reserved entries.
func (v *Vocabulary) Len() int { return len(v.words) }

// Word returns the word at index i, or UnknownWord if out of range.
func (v *Vocabulary) Word(i int32) string {
	if i < 0 || int(i) >= len(v.words) {
		return UnknownWord
	}
	return v.words[i]
}

// Index returns the index of word, or the index of UnknownWord if it is not found.
func (v *Vocabulary) Index(word string) int32 {
	if ix, ok := v.index[word]; ok {
		return ix
	}
	return 1
}

// Encode converts the tokens to word indexes in buf, truncating or padding to len(buf).
func (v *Vocabulary) Encode(tokens []string, buf []int32) {
	for i := range buf {
		if i < len(tokens) {
			buf[i] = v.Index(tokens[i])
		} else {
			buf[i] = 0
		}
	}
}

// Decode converts word indexes back to a string, padding is dropped.
func (v *Vocabulary) Decode(ids []int32) string {
	var words []string
	for _, ix := range ids {
		if ix != 0 {
			words = append(words, v.Word(ix))
		}
	}
	return strings.Join(words, " ")
}

// Save writes the vocabulary to a file with one word per line.
func (v *Vocabulary) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, word := range v.words {
		w.WriteString(word)
		w.WriteByte('\n')
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadVocabulary reads a vocabulary file written by Save.
func LoadVocabulary(path string) (*Vocabulary, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) < 2 || lines[0] != PadWord || lines[1] != UnknownWord {
		return nil, fmt.Errorf("%s: not a vocabulary file", path)
	}
	return newVocabulary(lines), nil
}

// Vocabulary and sequence length file names within a run directory.
const (
	VocabFile  = "vocab.txt"
	SeqLenFile = "len.txt"
)

// SaveModel writes the vocabulary and sequence length needed to encode new sentences to dir.
func SaveModel(dir string, v *Vocabulary, seqLen int) error {
	if err := v.Save(filepath.Join(dir, VocabFile)); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SeqLenFile), []byte(fmt.Sprintf("%d\n", seqLen)), 0644)
}

// LoadModel reads the vocabulary and sequence length saved by SaveModel.
func LoadModel(dir string) (v *Vocabulary, seqLen int, err error) {
	if v, err = LoadVocabulary(filepath.Join(dir, VocabFile)); err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, SeqLenFile))
	if err != nil {
		return nil, 0, err
	}
	if _, err = fmt.Sscan(string(data), &seqLen); err != nil || seqLen < 1 {
		return nil, 0, fmt.Errorf("%s: invalid sequence length", filepath.Join(dir, SeqLenFile))
	}
	return v, seqLen, nil
}

// ReadLines returns the non-blank lines from a file with surrounding space trimmed.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err = sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}
