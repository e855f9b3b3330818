// Package template implements the per-MID JSON command template
// registry and the pack/unpack codec that translates between a
// caller-supplied parameter dictionary and wire payload bytes.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/samthesuperhero/clourfid/internal/protocol"
)

// Kind discriminates which field of ParamValue is meaningful.
type Kind int

const (
	// KindUint: a plain big-endian integer (pack input, or unpack
	// output for a fixed-length value no wider than 4 bytes).
	KindUint Kind = iota
	// KindHex: raw bytes (pack input as a hex string, or unpack output
	// for a fixed-length value wider than 4 bytes / a variable-length
	// U8 value).
	KindHex
	// KindList: a list of big-endian integers at the declared element
	// width — the unpack result for a variable-length U16/U32 value.
	KindList
)

// ParamValue is a tagged variant of the three shapes a template
// parameter value can take on the wire, per SPEC_FULL.md §9.
type ParamValue struct {
	Kind Kind
	Uint uint32
	Hex  []byte
	List []uint32
}

// UintValue builds an integer-typed ParamValue.
func UintValue(v uint32) ParamValue { return ParamValue{Kind: KindUint, Uint: v} }

// HexValue builds a raw-bytes-typed ParamValue.
func HexValue(b []byte) ParamValue { return ParamValue{Kind: KindHex, Hex: b} }

// ListValue builds a list-of-integers-typed ParamValue.
func ListValue(v []uint32) ParamValue { return ParamValue{Kind: KindList, List: v} }

// ParamDef is one entry of a template's "prms" map.
type ParamDef struct {
	PID        string `json:"pid"` // "M" for mandatory, else 1-byte hex id
	Type       string `json:"type"` // U8, U16, or U32
	IsFixedLen bool   `json:"is-fixed-len"`
	Len        int    `json:"len"`
}

// Side is one of a template's "snd"/"rcv" halves.
type Side struct {
	MSID  string              `json:"msid"`
	MTyp  string              `json:"mtyp"`
	Init  string              `json:"init"`
	Tmpl  string              `json:"tmpl"`
	Prms  map[string]ParamDef `json:"prms"`
}

// Template is the on-disk JSON shape for one MID's command template.
type Template struct {
	Snd Side `json:"snd"`
	Rcv Side `json:"rcv"`
}

var placeholderRe = regexp.MustCompile(`\[(\S+?)\]`)

// Registry holds the in-memory {msid -> Template} map built by
// scanning a templates directory.
type Registry struct {
	dir       string
	templates map[string]Template
}

// NewRegistry creates an empty registry rooted at dir; call Load to
// populate it.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, templates: map[string]Template{}}
}

// Load (re)scans dir for <MID>.json files whose stem is a known MID
// label, replacing the current contents of the registry. This is
// called at startup and again on the STS "update" api-method.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("template: reading templates dir %q: %w", r.dir, err)
	}
	next := map[string]Template{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.ToLower(filepath.Ext(name)) != ".json" {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if _, known := protocol.FullMIDList[stem]; !known {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return fmt.Errorf("template: reading %q: %w", name, err)
		}
		var tmpl Template
		if err := json.Unmarshal(raw, &tmpl); err != nil {
			return fmt.Errorf("template: parsing %q: %w", name, err)
		}
		next[stem] = tmpl
	}
	r.templates = next
	return nil
}

// Get returns the template registered under msid.
func (r *Registry) Get(msid string) (Template, bool) {
	t, ok := r.templates[msid]
	return t, ok
}

// Len returns the number of currently loaded templates.
func (r *Registry) Len() int { return len(r.templates) }

// Names returns the msid of every currently loaded template.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}
