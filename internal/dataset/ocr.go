package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
)

// Loader and parser type tags.
const (
	AnnFileLoader  = "AnnFileLoader"
	HardDiskLoader = "HardDiskLoader"
	LineStrParser  = "LineStrParser"
	LineJsonParser = "LineJsonParser"
)

const (
	keyFilename = "filename"
	keyText     = "text"
)

// lineParser turns one annotation line into named fields.
type lineParser interface {
	parse(line string) (map[string]string, error)
}

type strParser struct {
	keys      []string
	keysIdx   []int
	separator string
}

func (p *strParser) parse(line string) (map[string]string, error) {
	parts := strings.Split(line, p.separator)
	maxIdx := slices.Max(p.keysIdx)
	if len(parts) <= maxIdx {
		return nil, fmt.Errorf("key index %d out of range in %q", maxIdx, line)
	}
	out := make(map[string]string, len(p.keys))
	for i, k := range p.keys {
		out[k] = parts[p.keysIdx[i]]
	}
	return out, nil
}

type jsonParser struct {
	keys []string
}

func (p *jsonParser) parse(line string) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(p.keys))
	for _, k := range p.keys {
		v, ok := raw[k]
		if !ok {
			return nil, fmt.Errorf("key %q not in %q", k, line)
		}
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		out[k] = s
	}
	return out, nil
}

func newParser(cfg modelcfg.ParserConfig) (lineParser, error) {
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = []string{keyFilename, keyText}
	}
	if !slices.Contains(keys, keyFilename) {
		return nil, fmt.Errorf("parser keys %v must include %q", keys, keyFilename)
	}
	switch cfg.Type {
	case "", LineStrParser:
		idx := cfg.KeysIdx
		if len(idx) == 0 {
			idx = make([]int, len(keys))
			for i := range idx {
				idx[i] = i
			}
		}
		if len(idx) != len(keys) {
			return nil, fmt.Errorf("keys_idx has %d entries for %d keys", len(idx), len(keys))
		}
		if slices.Min(idx) < 0 {
			return nil, errors.New("keys_idx must not be negative")
		}
		sep := cfg.Separator
		if sep == "" {
			sep = " "
		}
		return &strParser{keys: keys, keysIdx: idx, separator: sep}, nil
	case LineJsonParser:
		return &jsonParser{keys: keys}, nil
	default:
		return nil, fmt.Errorf("unknown parser type %q", cfg.Type)
	}
}

// ocr is a text recognition dataset read from a line annotation file.
type ocr struct {
	*base
}

func loadOCR(b *base, loader *modelcfg.LoaderConfig) (*ocr, error) {
	lc := modelcfg.LoaderConfig{Type: AnnFileLoader, Repeat: 1}
	if loader != nil {
		lc = *loader
	}
	switch lc.Type {
	case "", AnnFileLoader, HardDiskLoader:
	default:
		return nil, fmt.Errorf("unknown loader type %q", lc.Type)
	}
	if lc.Repeat <= 0 {
		lc.Repeat = 1
	}
	parser, err := newParser(lc.Parser)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(b.annFile)
	if err != nil {
		return nil, fmt.Errorf("open annotations: %w", err)
	}
	defer func() { _ = f.Close() }()

	var infos []pipeline.ImgInfo
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields, err := parser.parse(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", b.annFile, lineNo, err)
		}
		infos = append(infos, pipeline.ImgInfo{
			Filename: fields[keyFilename],
			Text:     norm.NFC.String(fields[keyText]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}

	b.infos = make([]pipeline.ImgInfo, 0, len(infos)*lc.Repeat)
	for range lc.Repeat {
		b.infos = append(b.infos, infos...)
	}
	return &ocr{base: b}, nil
}
