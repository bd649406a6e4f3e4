package textkernel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/furnish/internal/kernel"
)

// Metakernel variables.
const (
	KernelsToLoad = "KERNELS_TO_LOAD"
	PathValues    = "PATH_VALUES"
	PathSymbols   = "PATH_SYMBOLS"
)

// MaxStringLength is the longest string literal Write emits before
// splitting it with a trailing '+'.
const MaxStringLength = 78

// joinContinued merges strings ending in '+' with the string after them.
func joinContinued(vals []string) []string {
	var out []string
	var cur strings.Builder
	pending := false
	for _, v := range vals {
		if strings.HasSuffix(v, "+") {
			cur.WriteString(strings.TrimSuffix(v, "+"))
			pending = true
			continue
		}
		cur.WriteString(v)
		out = append(out, cur.String())
		cur.Reset()
		pending = false
	}
	if pending {
		out = append(out, cur.String())
	}
	return out
}

// Kernels returns KERNELS_TO_LOAD with continuations joined and path
// symbols substituted.
func (d *Document) Kernels() ([]string, error) {
	raw, err := d.Strings(KernelsToLoad)
	if err != nil {
		return nil, err
	}
	values, err := d.Strings(PathValues)
	if err != nil {
		return nil, err
	}
	symbols, err := d.Strings(PathSymbols)
	if err != nil {
		return nil, err
	}
	values = joinContinued(values)
	if len(values) != len(symbols) {
		return nil, fmt.Errorf("%s has %d entries but %s has %d", PathValues, len(values), PathSymbols, len(symbols))
	}

	// Longer symbols first so $AB is not replaced as $A followed by B.
	idx := make([]int, len(symbols))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return len(symbols[idx[a]]) > len(symbols[idx[b]]) })
	var pairs []string
	for _, i := range idx {
		pairs = append(pairs, "$"+symbols[i], values[i])
	}
	rep := strings.NewReplacer(pairs...)

	kernels := joinContinued(raw)
	for i, k := range kernels {
		kernels[i] = rep.Replace(k)
		if strings.Contains(kernels[i], "$") {
			return nil, fmt.Errorf("undefined path symbol in %q", k)
		}
	}
	return kernels, nil
}

// Meta is the content of a metakernel to write.
type Meta struct {
	Comment     string
	PathValues  []string
	PathSymbols []string
	Kernels     []string
}

// Write emits m as a metakernel.
func Write(w io.Writer, m Meta) error {
	if len(m.PathValues) != len(m.PathSymbols) {
		return fmt.Errorf("%d path values for %d path symbols", len(m.PathValues), len(m.PathSymbols))
	}
	var b strings.Builder
	b.WriteString("KPL/MK\n\n")
	if m.Comment != "" {
		b.WriteString(strings.TrimRight(m.Comment, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(beginData + "\n\n")
	if len(m.PathValues) > 0 {
		writeList(&b, PathValues, m.PathValues)
		writeList(&b, PathSymbols, m.PathSymbols)
	}
	writeList(&b, KernelsToLoad, m.Kernels)
	b.WriteString(beginText + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, name string, vals []string) {
	b.WriteString(name + " = (\n")
	for _, v := range vals {
		for _, part := range split(v) {
			b.WriteString("    '" + strings.ReplaceAll(part, "'", "''") + "'\n")
		}
	}
	b.WriteString(")\n\n")
}

// split breaks s into pieces of at most MaxStringLength bytes, each but the
// last ending in '+'.
func split(s string) []string {
	var out []string
	for len(s) > MaxStringLength {
		out = append(out, s[:MaxStringLength-1]+"+")
		s = s[MaxStringLength-1:]
	}
	return append(out, s)
}

// ByExtension knows every name and infers only its ktype, so local files
// without catalog entries still resolve for all times.
type ByExtension struct{}

// Describe implements kernel.Describer.
func (ByExtension) Describe(_ context.Context, name string) (kernel.Metadata, bool, error) {
	return kernel.Metadata{KType: kernel.KTypeOf(name)}, true, nil
}

// LoadMetakernel parses the .tm file at path into a kernel.Metakernel whose
// members are local files. Relative entries are taken relative to the
// file's directory. Members are described by d first and fall back to
// their extension.
func LoadMetakernel(path string, d kernel.Describer, priority kernel.Priority) (*kernel.Metakernel, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	entries, err := doc.Kernels()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var desc kernel.Describers
	if d != nil {
		desc = append(desc, d)
	}
	desc = append(desc, ByExtension{})

	dir := filepath.Dir(path)
	members := make([]kernel.Kernel, 0, len(entries))
	for _, e := range entries {
		p := e
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		members = append(members, kernel.LookupFile(filepath.Base(p), desc, kernel.WithLocalPath(p)))
	}
	return kernel.NewMetakernel(filepath.Base(path), priority, members...), nil
}

// WriteFile writes m to path through a temporary file and a rename, so
// readers never see a partial metakernel.
func WriteFile(path string, m Meta) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, m); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
