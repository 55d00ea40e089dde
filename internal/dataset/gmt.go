package dataset

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// GeneSet is one pathway from a GMT collection.
type GeneSet struct {
	Name        string
	Description string
	Genes       []string
}

// Collection is a named group of gene sets (e.g. Hallmark, REACTOME).
type Collection struct {
	Name string
	Sets []GeneSet
}

// LoadGMT reads a gene-set collection in GMT format: one set per line,
// tab-separated as name, description, member genes.
func LoadGMT(name, path string) (*Collection, error) {
	r, err := openMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open gene sets %s: %w", path, err)
	}
	defer r.Close()
	return ParseGMT(name, r)
}

// ParseGMT parses a GMT stream into a collection.
func ParseGMT(name string, r io.Reader) (*Collection, error) {
	c := &Collection{Name: name}
	seen := make(map[string]bool)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r\n")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("dataset: gmt line %d: need name, description and at least one gene", line)
		}
		setName := strings.TrimSpace(fields[0])
		if setName == "" {
			return nil, fmt.Errorf("dataset: gmt line %d: empty set name", line)
		}
		if seen[setName] {
			return nil, fmt.Errorf("dataset: gmt line %d: duplicate set %q", line, setName)
		}
		seen[setName] = true

		gs := GeneSet{Name: setName, Description: strings.TrimSpace(fields[1])}
		members := make(map[string]bool)
		for _, f := range fields[2:] {
			g := strings.TrimSpace(f)
			if g == "" || members[g] {
				continue
			}
			members[g] = true
			gs.Genes = append(gs.Genes, g)
		}
		if len(gs.Genes) == 0 {
			return nil, fmt.Errorf("dataset: gmt line %d: set %q has no genes", line, setName)
		}
		c.Sets = append(c.Sets, gs)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dataset: read gmt: %w", err)
	}
	if len(c.Sets) == 0 {
		return nil, fmt.Errorf("dataset: gene-set collection %q is empty", name)
	}
	return c, nil
}
