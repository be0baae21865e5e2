// Package version canonicalizes build configuration into a stable
// VersionHash that namespaces every on-disk artifact the core produces.
package version

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/ionifyjs/ionify/internal/hashutil"
)

// ParserMode selects which parser backend a module is parsed with.
type ParserMode string

const (
	ParserOxc    ParserMode = "oxc"
	ParserSwc    ParserMode = "swc"
	ParserHybrid ParserMode = "hybrid"
)

// Minifier selects which minifier backend is used.
type Minifier string

const (
	MinifierOxc  Minifier = "oxc"
	MinifierSwc  Minifier = "swc"
	MinifierAuto Minifier = "auto"
)

// TreeshakeMode is the aggressiveness of dead-code elimination.
type TreeshakeMode string

const (
	TreeshakeSafe       TreeshakeMode = "safe"
	TreeshakeAggressive TreeshakeMode = "aggressive"
)

// Treeshake holds tree-shaking options, or is nil when disabled.
type Treeshake struct {
	Mode    TreeshakeMode `json:"mode"`
	Include []string      `json:"include"`
	Exclude []string      `json:"exclude"`
}

// ScopeHoist holds scope-hoisting options, or is nil when disabled.
type ScopeHoist struct {
	InlineFunctions  bool `json:"inline_functions"`
	ConstantFolding  bool `json:"constant_folding"`
	CombineVariables bool `json:"combine_variables"`
}

// Config is the raw configuration record before normalization.
type Config struct {
	ParserMode   ParserMode             `json:"parser_mode"`
	Minifier     Minifier               `json:"minifier"`
	Treeshake    *Treeshake             `json:"treeshake"`
	ScopeHoist    *ScopeHoist            `json:"scope_hoist"`
	Plugins      []string               `json:"plugins"`
	Entry        []string               `json:"entry"`
	CSSOptions   map[string]interface{} `json:"css_options"`
	AssetOptions map[string]interface{} `json:"asset_options"`
}

// Canonicalize applies every normalization rule from spec.md §4.2 and
// returns a value whose JSON serialization is byte-identical for
// logically identical inputs.
func Canonicalize(cfg Config) Config {
	out := cfg

	if out.ParserMode == "" {
		out.ParserMode = ParserHybrid
	}
	if out.Minifier == "" {
		out.Minifier = MinifierAuto
	}

	if out.Treeshake != nil {
		ts := *out.Treeshake
		ts.Include = sortedUnique(ts.Include)
		ts.Exclude = sortedUnique(ts.Exclude)
		out.Treeshake = &ts
	}

	// ScopeHoist fields are already explicit booleans in Go; nothing to
	// coerce beyond keeping the pointer nil when disabled.

	out.Plugins = sortedUnique(out.Plugins)
	if len(out.Plugins) == 0 {
		out.Plugins = nil
	}

	out.Entry = sortedUnique(out.Entry)
	if len(out.Entry) == 0 {
		out.Entry = nil
	}

	if len(out.CSSOptions) == 0 {
		out.CSSOptions = nil
	}
	if len(out.AssetOptions) == 0 {
		out.AssetOptions = nil
	}

	return out
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CanonicalJSON serializes v as JSON with all object keys recursively
// sorted, so that logically-equal configs with different key orders
// produce byte-identical output.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return canonicalMarshal(generic)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return marshalSortedMap(val)
	case []interface{}:
		return marshalArray(val)
	default:
		return json.Marshal(v)
	}
}

func marshalSortedMap(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(arr []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		valBytes, err := canonicalMarshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Hash is a 16-hex-char VersionHash prefix.
type Hash = string

// Compute canonicalizes cfg and returns its 16-hex-char VersionHash.
func Compute(cfg Config) (Hash, error) {
	canon := Canonicalize(cfg)
	data, err := CanonicalJSON(canon)
	if err != nil {
		return "", err
	}
	digest := hashutil.HashBytes(data)
	return digest.ShortHex(16), nil
}
