package kernel

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// KType is the SPICE kernel type of a file or group.
type KType string

const (
	META KType = "META"
	LSK  KType = "LSK"
	FK   KType = "FK"
	IK   KType = "IK"
	PCK  KType = "PCK"
	DSK  KType = "DSK"
	SCLK KType = "SCLK"
	CK   KType = "CK"
	SPK  KType = "SPK"
	STAR KType = "STAR"
)

// extensions maps lower-case file extensions to kernel types.
var extensions = map[string]KType{
	".bc":  CK,
	".bdb": STAR,
	".bds": DSK,
	".bpc": PCK,
	".bsp": SPK,
	".tf":  FK,
	".ti":  IK,
	".tls": LSK,
	".tm":  META,
	".tpc": PCK,
	".tsc": SCLK,
}

// KTypeOf infers the kernel type from a file name's extension.
// Returns "" when the extension is not recognized.
func KTypeOf(name string) KType {
	return extensions[strings.ToLower(path.Ext(name))]
}

// ParseKType parses a kernel type name, case-insensitively.
func ParseKType(s string) (KType, error) {
	k := KType(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case META, LSK, FK, IK, PCK, DSK, SCLK, CK, SPK, STAR:
		return k, nil
	}
	return "", fmt.Errorf("unknown kernel type %q", s)
}

// Priority is the load order of kernel types inside a Metakernel.
// Types earlier in the slice load first. Types not listed load after
// every listed type, ordered by name.
type Priority []KType

// DefaultPriority loads nested metakernels first, then text kernels that
// define time and frames, then binary data.
var DefaultPriority = Priority{META, LSK, FK, IK, PCK, DSK, SCLK, CK, SPK, STAR}

// ParsePriority builds a Priority from type names, rejecting duplicates.
func ParsePriority(names []string) (Priority, error) {
	seen := make(map[KType]bool, len(names))
	p := make(Priority, 0, len(names))
	for _, n := range names {
		k, err := ParseKType(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("kernel type %s listed twice in priority", k)
		}
		seen[k] = true
		p = append(p, k)
	}
	return p, nil
}

// Rank returns the position of k in the table, or len(p) if absent.
func (p Priority) Rank(k KType) int {
	for i, t := range p {
		if t == k {
			return i
		}
	}
	return len(p)
}

// Less orders two kernel types by rank, then by name.
func (p Priority) Less(a, b KType) bool {
	ra, rb := p.Rank(a), p.Rank(b)
	if ra != rb {
		return ra < rb
	}
	return a < b
}

// Sort orders types in place.
func (p Priority) Sort(types []KType) {
	sort.SliceStable(types, func(i, j int) bool { return p.Less(types[i], types[j]) })
}
