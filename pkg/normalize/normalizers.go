// Package normalize maps raw spreadsheet rows onto the canonical inventory schema
// and computes the identity keys used for de-duplication.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// ValueNormalizer is a function that normalizes a string value
type ValueNormalizer func(string) string

const (
	NormalizerNameKey   = "name_key"
	NormalizerSKUKey    = "sku_key"
	NormalizerLowercase = "lowercase"
	NormalizerTrim      = "trim"
)

var registry = make(map[string]ValueNormalizer)

func init() {
	Register(NormalizerNameKey, NameKey)
	Register(NormalizerSKUKey, SKUKey)
	Register(NormalizerLowercase, strings.ToLower)
	Register(NormalizerTrim, strings.TrimSpace)
}

// Register adds a normalizer to the registry
func Register(name string, fn ValueNormalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (ValueNormalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names return the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// NameKey is the identity key for names: lower-cased with every whitespace rune removed.
func NameKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var spacedHyphen = regexp.MustCompile(`\s*-\s*`)

// SKUKey is the identity key for SKUs: hyphens and whitespace removed, lower-cased.
func SKUKey(s string) string {
	s = spacedHyphen.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
