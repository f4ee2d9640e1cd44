// Package bankdir is the static registry of known banks, their canonical SMS
// sender ids and brand colours. A Directory is immutable after construction
// and safe to share between goroutines.
package bankdir

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

//go:embed banks.json
var defaultBanks []byte

// Bank is one registry entry.
type Bank struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	SenderPatterns []string `json:"sender_patterns"`
	Color          string   `json:"color"`
}

// Directory resolves sender ids and bank codes to banks.
type Directory struct {
	banks  []Bank
	byCode map[string]*Bank
	// patterns sorted longest first so the most specific pattern wins.
	patterns []patternEntry
}

type patternEntry struct {
	pattern string
	bank    *Bank
}

// Default returns the built-in directory. It panics only if the embedded
// data is malformed, which is a build defect.
func Default() *Directory {
	d, err := parse(defaultBanks)
	if err != nil {
		panic(fmt.Sprintf("bankdir: embedded directory: %v", err))
	}
	return d
}

// Load builds a directory from a JSON array of banks.
func Load(r io.Reader) (*Directory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	return parse(data)
}

// New builds a directory from in-memory entries.
func New(banks []Bank) (*Directory, error) {
	d := &Directory{byCode: make(map[string]*Bank, len(banks))}
	seen := make(map[string]bool, len(banks))
	for _, b := range banks {
		code := strings.ToUpper(strings.TrimSpace(b.Code))
		if code == "" {
			return nil, fmt.Errorf("bank %q has no code", b.Name)
		}
		if seen[code] {
			return nil, fmt.Errorf("duplicate bank code %s", code)
		}
		seen[code] = true
		b.Code = code
		norm := make([]string, 0, len(b.SenderPatterns))
		for _, p := range b.SenderPatterns {
			if n := NormalizeSender(p); n != "" {
				norm = append(norm, n)
			}
		}
		b.SenderPatterns = norm
		d.banks = append(d.banks, b)
	}
	for i := range d.banks {
		b := &d.banks[i]
		d.byCode[b.Code] = b
		for _, p := range b.SenderPatterns {
			d.patterns = append(d.patterns, patternEntry{pattern: p, bank: b})
		}
	}
	sort.SliceStable(d.patterns, func(i, j int) bool {
		return len(d.patterns[i].pattern) > len(d.patterns[j].pattern)
	})
	return d, nil
}

func parse(data []byte) (*Directory, error) {
	var banks []Bank
	if err := json.Unmarshal(data, &banks); err != nil {
		return nil, fmt.Errorf("unmarshal directory: %w", err)
	}
	return New(banks)
}

var operatorPrefix = regexp.MustCompile(`^[A-Z]{2}-`)

// NormalizeSender uppercases a sender id, strips a two-letter operator/circle
// prefix such as "VM-" or "JD-" and removes remaining hyphens.
func NormalizeSender(sender string) string {
	s := strings.ToUpper(strings.TrimSpace(sender))
	s = operatorPrefix.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "-", "")
}

// FindBySender resolves a raw or normalized sender id. Registered patterns are
// tried first (longest first); bank codes of four or more letters are a
// fallback so that "HDFCBANK" still resolves.
func (d *Directory) FindBySender(sender string) (Bank, bool) {
	s := NormalizeSender(sender)
	if s == "" {
		return Bank{}, false
	}
	for _, e := range d.patterns {
		if strings.Contains(s, e.pattern) {
			return e.bank.clone(), true
		}
	}
	for i := range d.banks {
		b := &d.banks[i]
		if len(b.Code) >= 4 && strings.Contains(s, b.Code) {
			return b.clone(), true
		}
	}
	return Bank{}, false
}

// ByCode looks up a bank by its code, case-insensitively.
func (d *Directory) ByCode(code string) (Bank, bool) {
	b, ok := d.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Bank{}, false
	}
	return b.clone(), true
}

// IsKnownPattern reports whether sender, once normalized, is covered by one
// of the bank's registered patterns, using the same containment test as
// FindBySender.
func (d *Directory) IsKnownPattern(code, sender string) bool {
	b, ok := d.byCode[strings.ToUpper(code)]
	if !ok {
		return false
	}
	s := NormalizeSender(sender)
	if s == "" {
		return false
	}
	for _, p := range b.SenderPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Banks returns a copy of every entry in registry order.
func (d *Directory) Banks() []Bank {
	out := make([]Bank, len(d.banks))
	for i := range d.banks {
		out[i] = d.banks[i].clone()
	}
	return out
}

func (b *Bank) clone() Bank {
	cp := *b
	cp.SenderPatterns = append([]string(nil), b.SenderPatterns...)
	return cp
}
