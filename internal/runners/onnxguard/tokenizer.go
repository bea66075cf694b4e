package onnxguard

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// wordPiece is a minimal lower-casing BERT tokenizer.
type wordPiece struct {
	vocab              map[string]int64
	cls, sep, pad, unk int64
	maxCharsPerWord    int
}

func loadWordPiece(path string) (*wordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()
	vocab := map[string]int64{}
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		tok := strings.TrimSpace(sc.Text())
		if tok == "" {
			continue
		}
		vocab[tok] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	return newWordPiece(vocab), nil
}

func newWordPiece(vocab map[string]int64) *wordPiece {
	return &wordPiece{
		vocab:           vocab,
		cls:             vocab["[CLS]"],
		sep:             vocab["[SEP]"],
		pad:             vocab["[PAD]"],
		unk:             vocab["[UNK]"],
		maxCharsPerWord: 100,
	}
}

// encode returns input ids and attention mask padded to seqLen.
func (t *wordPiece) encode(text string, seqLen int) ([]int64, []int64) {
	ids := []int64{t.cls}
	for _, word := range basicSplit(strings.ToLower(text)) {
		ids = append(ids, t.wordIDs(word)...)
		if len(ids) >= seqLen-1 {
			ids = ids[:seqLen-1]
			break
		}
	}
	ids = append(ids, t.sep)
	mask := make([]int64, seqLen)
	out := make([]int64, seqLen)
	for i := range out {
		if i < len(ids) {
			out[i], mask[i] = ids[i], 1
		} else {
			out[i] = t.pad
		}
	}
	return out, mask
}

// wordIDs applies greedy longest-match-first over one word.
func (t *wordPiece) wordIDs(word string) []int64 {
	runes := []rune(word)
	if len(runes) > t.maxCharsPerWord {
		return []int64{t.unk}
	}
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{t.unk}
		}
		out = append(out, found)
		start = end
	}
	return out
}

// basicSplit splits on whitespace and isolates punctuation.
func basicSplit(s string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			out = append(out, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
