package text

import (
	"errors"
	"fmt"
	"math/rand"
)

// Class names indexed by label.
var Classes = []string{"negative", "positive"}

// Corpus is a set of labelled sentences encoded as fixed length sequences of word indexes.
// It implements the nnet.Data interface.
type Corpus struct {
	Vocab  *Vocabulary
	Length int
	Labels []int32
	Inputs []int32
	Texts  []string
}

// LoadCorpus reads the positive and negative examples, one per line, and builds the vocabulary.
// The sequence length is the longest sentence, limited to maxLen if this is greater than zero.
func LoadCorpus(posFile, negFile string, maxLen int) (*Corpus, error) {
	return ReadCorpus(posFile, negFile, nil, maxLen)
}

// ReadCorpus reads the positive and negative examples using an existing vocabulary if vocab is not nil.
// In this case maxLen is the sequence length of the trained model.
func ReadCorpus(posFile, negFile string, vocab *Vocabulary, maxLen int) (*Corpus, error) {
	pos, err := ReadLines(posFile)
	if err != nil {
		return nil, err
	}
	neg, err := ReadLines(negFile)
	if err != nil {
		return nil, err
	}
	return NewCorpus(pos, neg, vocab, maxLen)
}

// NewCorpus tokenizes the given examples. If vocab is nil then a new vocabulary is built from them,
// else the sequence length is fixed at maxLen.
func NewCorpus(pos, neg []string, vocab *Vocabulary, maxLen int) (*Corpus, error) {
	texts := append(append([]string{}, pos...), neg...)
	if len(texts) == 0 {
		return nil, errors.New("corpus is empty")
	}
	labels := make([]int32, len(texts))
	for i := range pos {
		labels[i] = 1
	}
	tokens := make([][]string, len(texts))
	length := 0
	for i, s := range texts {
		tokens[i] = Tokenize(s)
		length = max(length, len(tokens[i]))
	}
	if maxLen > 0 && (length > maxLen || vocab != nil) {
		length = maxLen
	}
	if length == 0 {
		return nil, errors.New("corpus has no words")
	}
	if vocab == nil {
		vocab = NewVocabulary(Pad(tokens, length))
	}
	c := &Corpus{Vocab: vocab, Length: length, Labels: labels, Texts: texts}
	c.Inputs = make([]int32, len(texts)*length)
	for i, t := range tokens {
		vocab.Encode(t, c.Inputs[i*length:(i+1)*length])
	}
	return c, nil
}

// Encode converts unlabelled sentences to a corpus using an existing vocabulary and sequence length.
// Labels are set to -1.
func Encode(sentences []string, vocab *Vocabulary, seqLen int) *Corpus {
	c := &Corpus{Vocab: vocab, Length: seqLen, Texts: sentences}
	c.Labels = make([]int32, len(sentences))
	c.Inputs = make([]int32, len(sentences)*seqLen)
	for i, s := range sentences {
		c.Labels[i] = -1
		vocab.Encode(Tokenize(s), c.Inputs[i*seqLen:(i+1)*seqLen])
	}
	return c
}

// Split shuffles the examples and returns the training and dev sets. The dev set is taken from the
// end of the shuffled data: devSamples examples if this is greater than zero, else devPercent of the
// total. Both sets have at least one example.
func (c *Corpus) Split(devPercent float64, devSamples int, rng *rand.Rand) (train, dev *Corpus, err error) {
	n := c.Len()
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 examples to split, have %d", n)
	}
	nDev := devSamples
	if nDev <= 0 {
		nDev = int(devPercent * float64(n))
	}
	nDev = min(max(nDev, 1), n-1)
	perm := rng.Perm(n)
	return c.Subset(perm[:n-nDev]), c.Subset(perm[n-nDev:]), nil
}

// Subset returns a new corpus with the given examples, sharing the vocabulary.
func (c *Corpus) Subset(index []int) *Corpus {
	s := &Corpus{Vocab: c.Vocab, Length: c.Length}
	s.Labels = make([]int32, len(index))
	s.Inputs = make([]int32, len(index)*c.Length)
	s.Texts = make([]string, len(index))
	c.Label(index, s.Labels)
	c.Input(index, s.Inputs)
	for i, ix := range index {
		s.Texts[i] = c.Texts[ix]
	}
	return s
}

// Counts returns the number of examples of each class.
func (c *Corpus) Counts() []int {
	counts := make([]int, len(Classes))
	for _, l := range c.Labels {
		if l >= 0 && int(l) < len(counts) {
			counts[l]++
		}
	}
	return counts
}

func (c *Corpus) Len() int { return len(c.Labels) }

func (c *Corpus) Classes() []string { return Classes }

func (c *Corpus) SeqLen() int { return c.Length }

func (c *Corpus) VocabSize() int { return c.Vocab.Len() }

func (c *Corpus) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = c.Labels[ix]
	}
}

func (c *Corpus) Input(index []int, buf []int32) {
	for i, ix := range index {
		copy(buf[i*c.Length:(i+1)*c.Length], c.Inputs[ix*c.Length:(ix+1)*c.Length])
	}
}

func (c *Corpus) Text(i int) string {
	if i >= 0 && i < len(c.Texts) {
		return c.Texts[i]
	}
	return ""
}
