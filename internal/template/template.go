// Package template accumulates the templater's discoveries into a
// MemoryTemplate: every victim bit found to flip, the aggressor pattern
// that flipped it, and a distribution grouping victims by the filler
// count and repetition that produced them, then serialises the result as
// the template JSON file.
package template

import (
	"encoding/json"
	"fmt"

	"rowhammer/internal/config"
	"rowhammer/internal/dram"
	"rowhammer/internal/hostaudit"
	"rowhammer/internal/memtypes"
)

// victimRecord is one confirmed victim bit, with its interned aggressor
// pattern index.
type victimRecord struct {
	Phys       uint64
	Flip       memtypes.BitFlip
	PatternIdx int
}

// String renders a victim record as "0x<phys> <idx><+|-> <patternIdx>",
// the template file's compact textual form for one discovered flip.
func (v victimRecord) String() string {
	return fmt.Sprintf("0x%x %s %d", v.Phys, v.Flip, v.PatternIdx)
}

// MemoryTemplate is the templater's accumulated result: the sweep
// configuration and host/DRAM context the discoveries were made under, an
// interning table of distinct aggressor patterns observed to cause a
// flip, the full list of discovered victim bits (referencing those
// patterns by index), and a distribution grouping victim indices by the
// filler count and repetition that found them — the primary axis the
// templater sweeps — so a later consumer can ask "what filler count
// produced this flip?" without re-running the sweep.
type MemoryTemplate struct {
	DRAMID          string
	TemplaterConfig *config.TemplaterConfig
	DRAMConfig      *dram.Config
	HostConfig      *hostaudit.HostConfig
	Timestamp       string

	aggrPatterns []config.AggressorPattern
	victims      []victimRecord
	// distribution[fillerCount][repetition] holds the victim indices
	// discovered at that sweep point.
	distribution map[int]map[int][]int
}

// New returns an empty template for the named DIMM. Callers should set
// TemplaterConfig, DRAMConfig, HostConfig and Timestamp before
// marshalling.
func New(dramID string) *MemoryTemplate {
	return &MemoryTemplate{
		DRAMID:       dramID,
		distribution: make(map[int]map[int][]int),
	}
}

// internPattern returns the index of pattern in the interning table,
// appending it if it has not been seen before.
func (t *MemoryTemplate) internPattern(pattern config.AggressorPattern) int {
	for i, p := range t.aggrPatterns {
		if p.Equal(pattern) {
			return i
		}
	}
	t.aggrPatterns = append(t.aggrPatterns, pattern)
	return len(t.aggrPatterns) - 1
}

// RecordFlip adds a confirmed victim bit flip to the template, interning
// its aggressor pattern and the (address, flip, pattern) victim record,
// and files the victim's index under the sweep point (fillerCount,
// repetition) that produced it.
func (t *MemoryTemplate) RecordFlip(victimPhys uint64, flip memtypes.BitFlip, pattern config.AggressorPattern, fillerCount, repetition int) {
	patIdx := t.internPattern(pattern)
	rec := victimRecord{Phys: victimPhys, Flip: flip, PatternIdx: patIdx}
	victimIdx := -1
	for i, v := range t.victims {
		if v == rec {
			victimIdx = i
			break
		}
	}
	if victimIdx < 0 {
		victimIdx = len(t.victims)
		t.victims = append(t.victims, rec)
	}

	byRep, ok := t.distribution[fillerCount]
	if !ok {
		byRep = make(map[int][]int)
		t.distribution[fillerCount] = byRep
	}
	byRep[repetition] = append(byRep[repetition], victimIdx)
}

// Len reports how many distinct victim bits have been recorded.
func (t *MemoryTemplate) Len() int { return len(t.victims) }

// VictimsAt returns every recorded victim discovered at the given filler
// count and repetition.
func (t *MemoryTemplate) VictimsAt(fillerCount, repetition int) []string {
	idxs := t.distribution[fillerCount][repetition]
	out := make([]string, len(idxs))
	for i, vi := range idxs {
		out[i] = t.victims[vi].String()
	}
	return out
}

// memoryTemplateJSON is the on-disk shape: victims and aggressor patterns
// as their compact textual forms, the sweep context verbatim, and the
// distribution keyed by its numeric indices rendered as strings (the only
// form JSON object keys permit).
type memoryTemplateJSON struct {
	TemplaterConfig *config.TemplaterConfig    `json:"templater_config"`
	DRAMConfig      *dram.Config               `json:"dram_config"`
	HostConfig      *hostaudit.HostConfig      `json:"host_config"`
	Timestamp       string                     `json:"timestamp"`
	DRAMID          string                     `json:"dram_id"`
	Victims         []string                   `json:"victims"`
	AggrPatterns    []string                   `json:"aggr_patterns"`
	Distribution    map[string]map[string][]int `json:"distribution"`
}

// MarshalJSON implements json.Marshaler, rendering victims and aggressor
// patterns as their textual forms (matching BitFlip/AggressorPattern's own
// MarshalText conventions) rather than their internal struct layout.
func (t *MemoryTemplate) MarshalJSON() ([]byte, error) {
	out := memoryTemplateJSON{
		TemplaterConfig: t.TemplaterConfig,
		DRAMConfig:      t.DRAMConfig,
		HostConfig:      t.HostConfig,
		Timestamp:       t.Timestamp,
		DRAMID:          t.DRAMID,
		Victims:         make([]string, len(t.victims)),
		AggrPatterns:    make([]string, len(t.aggrPatterns)),
		Distribution:    make(map[string]map[string][]int, len(t.distribution)),
	}
	for i, v := range t.victims {
		out.Victims[i] = v.String()
	}
	for i, p := range t.aggrPatterns {
		out.AggrPatterns[i] = p.String()
	}
	for fillerCount, byRep := range t.distribution {
		rep := make(map[string][]int, len(byRep))
		for repetition, idxs := range byRep {
			rep[fmt.Sprintf("%d", repetition)] = idxs
		}
		out.Distribution[fmt.Sprintf("%d", fillerCount)] = rep
	}
	return json.MarshalIndent(out, "", "  ")
}
