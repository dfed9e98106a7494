package text

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jnb666/textcnn/nnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ nnet.Data = &Corpus{}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in     string
		expect []string
	}{
		{"Hello, World!", []string{"hello", ",", "world", "!"}},
		{"it's  a  test... (really)?", []string{"it's", "a", "test", "(", "really", ")", "?"}},
		{"ＧＯＯＤ ｆｉｌｍ １０", []string{"good", "film", "10"}},
		{"这部电影很好", []string{"这", "部", "电", "影", "很", "好"}},
		{"abc中d", []string{"abc", "中", "d"}},
		{"ｶﾀｶﾅ", []string{"カ", "タ", "カ", "ナ"}},
		{"  -- ; ", nil},
	}
	for _, test := range tests {
		assert.Equal(t, test.expect, Tokenize(test.in), test.in)
	}
}

func TestPad(t *testing.T) {
	p := Pad([][]string{{"a", "b", "c"}, {"d"}, nil}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"d", PadWord}, {PadWord, PadWord}}, p)
}

func TestVocabulary(t *testing.T) {
	v := NewVocabulary([][]string{{"b", "a", PadWord}, {"c", "a", "b", "a"}})
	assert.Equal(t, 5, v.Len())
	assert.Equal(t, []string{PadWord, UnknownWord, "a", "b", "c"}, v.words)
	assert.Equal(t, int32(2), v.Index("a"))
	assert.Equal(t, int32(1), v.Index("zzz"))
	assert.Equal(t, "c", v.Word(4))
	assert.Equal(t, UnknownWord, v.Word(9))

	buf := make([]int32, 4)
	v.Encode([]string{"c", "x", "a"}, buf)
	assert.Equal(t, []int32{4, 1, 2, 0}, buf)
	assert.Equal(t, "c <UNK/> a", v.Decode(buf))
	v.Encode([]string{"a", "b", "c", "a", "b"}, buf)
	assert.Equal(t, []int32{2, 3, 4, 2}, buf)

	dir := t.TempDir()
	require.NoError(t, SaveModel(dir, v, 7))
	v2, seqLen, err := LoadModel(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, seqLen)
	assert.Equal(t, v.words, v2.words)
	assert.Equal(t, v.index, v2.index)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("a\nb\n"), 0644))
	_, err = LoadVocabulary(bad)
	assert.Error(t, err)
	_, _, err = LoadModel(t.TempDir())
	assert.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	pos := writeFile(t, dir, "pos.txt", "a good film\n\nvery good !\n")
	neg := writeFile(t, dir, "neg.txt", "a bad , bad film\n")
	c, err := LoadCorpus(pos, neg, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 5, c.SeqLen())
	assert.Equal(t, []int32{1, 1, 0}, c.Labels)
	assert.Equal(t, []int{1, 2}, c.Counts())
	assert.Equal(t, Classes, c.Classes())
	assert.Equal(t, "very good !", c.Text(1))
	assert.Equal(t, "", c.Text(3))
	// a, bad, film, good: 2 each; ",", "!", very: 1 each
	assert.Equal(t, []string{PadWord, UnknownWord, "a", "bad", "film", "good", "!", ",", "very"}, c.Vocab.words)
	assert.Equal(t, 9, c.VocabSize())

	buf := make([]int32, 5)
	c.Input([]int{2}, buf)
	assert.Equal(t, []int32{2, 3, 7, 3, 4}, buf)
	assert.Equal(t, "a bad , bad film", c.Vocab.Decode(buf))
	c.Input([]int{0}, buf)
	assert.Equal(t, []int32{2, 5, 4, 0, 0}, buf)

	c, err = LoadCorpus(pos, neg, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.SeqLen())

	_, err = LoadCorpus(filepath.Join(dir, "missing.txt"), neg, 0)
	assert.Error(t, err)
	empty := writeFile(t, dir, "empty.txt", "\n")
	_, err = LoadCorpus(empty, empty, 0)
	assert.Error(t, err)
	_, err = NewCorpus([]string{"..."}, nil, nil, 0)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	var pos, neg []string
	for i := 0; i < 10; i++ {
		pos = append(pos, "good "+string(rune('a'+i)))
		neg = append(neg, "bad "+string(rune('a'+i)))
	}
	c, err := NewCorpus(pos, neg, nil, 0)
	require.NoError(t, err)

	train, dev, err := c.Split(0.1, 0, rand.New(rand.NewSource(10)))
	require.NoError(t, err)
	assert.Equal(t, 18, train.Len())
	assert.Equal(t, 2, dev.Len())
	assert.Same(t, c.Vocab, dev.Vocab)
	var texts []string
	texts = append(texts, train.Texts...)
	texts = append(texts, dev.Texts...)
	sort.Strings(texts)
	expect := append(append([]string{}, pos...), neg...)
	sort.Strings(expect)
	assert.Equal(t, expect, texts)
	for i, text := range dev.Texts {
		label := int32(0)
		if text[:4] == "good" {
			label = 1
		}
		assert.Equal(t, label, dev.Labels[i])
	}

	// same seed gives the same split
	_, dev2, err := c.Split(0.1, 0, rand.New(rand.NewSource(10)))
	require.NoError(t, err)
	assert.Equal(t, dev.Texts, dev2.Texts)

	train, dev, err = c.Split(0.1, 5, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 15, train.Len())
	assert.Equal(t, 5, dev.Len())

	train, dev, err = c.Split(0, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Len())
	train, dev, err = c.Split(0, 100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, train.Len())
	assert.Equal(t, 19, dev.Len())

	one, err := NewCorpus([]string{"good"}, nil, nil, 0)
	require.NoError(t, err)
	_, _, err = one.Split(0.1, 0, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	c, err := NewCorpus([]string{"a good film"}, []string{"a bad film"}, nil, 0)
	require.NoError(t, err)
	e := Encode([]string{"GOOD film, truly"}, c.Vocab, c.SeqLen())
	assert.Equal(t, []int32{-1}, e.Labels)
	assert.Equal(t, 3, e.SeqLen())
	assert.Equal(t, "good film <UNK/>", c.Vocab.Decode(e.Inputs))
}

func TestReadCorpus(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCorpus([]string{"a good film"}, []string{"a bad film"}, nil, 0)
	require.NoError(t, err)
	require.NoError(t, SaveModel(dir, c.Vocab, c.SeqLen()))
	vocab, seqLen, err := LoadModel(dir)
	require.NoError(t, err)
	assert.Equal(t, c.Vocab.words, vocab.words)
	assert.Equal(t, 3, seqLen)

	pos := writeFile(t, dir, "pos.txt", "good\nvery good film indeed\n")
	neg := writeFile(t, dir, "neg.txt", "bad\n")
	r, err := ReadCorpus(pos, neg, vocab, seqLen)
	require.NoError(t, err)
	assert.Same(t, vocab, r.Vocab)
	assert.Equal(t, 3, r.SeqLen())
	assert.Equal(t, "good", vocab.Decode(r.Inputs[:3]))
	assert.Equal(t, "<UNK/> good film", vocab.Decode(r.Inputs[3:6]))
	assert.Equal(t, []int32{1, 1, 0}, r.Labels)
}
