// Package config defines the on-disk schemas that drive the engine:
// attack_config.toml (AttackConfig) and templater_config.toml
// (TemplaterConfig). Both are plain TOML decoded with
// github.com/BurntSushi/toml. BitFlip implements
// encoding.TextMarshaler/TextUnmarshaler, so its compact textual form
// ("3+") round-trips through TOML and JSON. AggressorPattern also has a
// compact textual form ("0xa8000(0xff),0xac000(0xff)") that round-trips
// through JSON, but in TOML it is decoded by UnmarshalTOML from a table of
// phys_aggr/aggr_init entries, not from that string.
package config

import (
	"fmt"
	"sort"
	"strings"

	"rowhammer/internal/memtypes"
)

// RowAndInitValue names every physical frame in one DRAM row together with
// the byte value that row should be initialised to before hammering.
type RowAndInitValue struct {
	Frames []memtypes.FrameAddr
	Init   uint8
}

// Equal reports whether two RowAndInitValue name the same row with the
// same init value.
func (r RowAndInitValue) Equal(o RowAndInitValue) bool {
	if r.Init != o.Init || len(r.Frames) != len(o.Frames) {
		return false
	}
	for i := range r.Frames {
		if r.Frames[i] != o.Frames[i] {
			return false
		}
	}
	return true
}

// rowAndInitValueTOML is the literal TOML shape: a single representative
// physical address for the row (phys_aggr) plus its init byte. Frames is
// then derived by expanding the row to all PagesPerRow constituent pages.
type rowAndInitValueTOML struct {
	PhysAggr uint64 `toml:"phys_aggr" json:"phys_aggr"`
	AggrInit uint8  `toml:"aggr_init" json:"aggr_init"`
}

func (r rowAndInitValueTOML) expand() RowAndInitValue {
	return RowAndInitValue{
		Frames: memtypes.FramesInRow(memtypes.PhysAddr(r.PhysAggr)),
		Init:   r.AggrInit,
	}
}

// AggressorPattern is an ordered sequence of aggressor rows, each hammered
// in turn for every hammer-count iteration.
type AggressorPattern struct {
	Pattern []RowAndInitValue
}

// UnmarshalTOML implements toml.Unmarshaler.
func (a *AggressorPattern) UnmarshalTOML(data interface{}) error {
	m, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("config: aggressor pattern must be a table")
	}
	raw, ok := m["pattern"].([]map[string]interface{})
	if !ok {
		// BurntSushi represents array-of-tables as []map[string]interface{}
		// in some decode paths and []interface{} in others; handle both.
		rawAny, ok2 := m["pattern"].([]interface{})
		if !ok2 {
			return fmt.Errorf("config: aggressor pattern missing \"pattern\" array")
		}
		for _, item := range rawAny {
			im, ok3 := item.(map[string]interface{})
			if !ok3 {
				return fmt.Errorf("config: aggressor pattern entry must be a table")
			}
			raw = append(raw, im)
		}
	}
	a.Pattern = nil
	for _, entry := range raw {
		phys, _ := toUint64(entry["phys_aggr"])
		init, _ := toUint64(entry["aggr_init"])
		a.Pattern = append(a.Pattern, rowAndInitValueTOML{PhysAggr: phys, AggrInit: uint8(init)}.expand())
	}
	return nil
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int64:
		return uint64(n), true
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}

// Equal reports whether two patterns name the same rows, in the same
// order, with the same init values.
func (a AggressorPattern) Equal(o AggressorPattern) bool {
	if len(a.Pattern) != len(o.Pattern) {
		return false
	}
	for i := range a.Pattern {
		if !a.Pattern[i].Equal(o.Pattern[i]) {
			return false
		}
	}
	return true
}

// String renders the pattern as comma-separated "0x<row>(0x<init>)" tokens,
// the template file format for a serialised AggressorPattern.
func (a AggressorPattern) String() string {
	parts := make([]string, len(a.Pattern))
	for i, r := range a.Pattern {
		parts[i] = fmt.Sprintf("0x%x(0x%x)", uint64(r.Frames[0]), r.Init)
	}
	return strings.Join(parts, ",")
}

// MarshalText implements encoding.TextMarshaler.
func (a AggressorPattern) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, the inverse of String.
func (a *AggressorPattern) UnmarshalText(text []byte) error {
	a.Pattern = nil
	if len(text) == 0 {
		return nil
	}
	for _, tok := range strings.Split(string(text), ",") {
		var rowAddr, init uint64
		if _, err := fmt.Sscanf(tok, "0x%x(0x%x)", &rowAddr, &init); err != nil {
			return fmt.Errorf("config: malformed aggressor pattern token %q: %w", tok, err)
		}
		a.Pattern = append(a.Pattern, RowAndInitValue{
			Frames: memtypes.FramesInRow(memtypes.PhysAddr(rowAddr)),
			Init:   uint8(init),
		})
	}
	return nil
}

// VictimBit names one bit within a victim page and the aggressor pattern
// expected to flip it.
type VictimBit struct {
	Offset         uint64          `toml:"offset" json:"offset"`
	BitFlip        memtypes.BitFlip `toml:"bitflip" json:"bitflip"`
	AggrPatternKey string          `toml:"aggr_pattern_key" json:"aggr_pattern_key"`
}

// VictimFrame is one physical frame and the bits within it declared as
// flippable, optionally tied back to a page of the target executable's
// hidden segment via PageFileOffset.
type VictimFrame struct {
	PageFileOffset *uint64                 `toml:"page_file_offset" json:"page_file_offset,omitempty"`
	FrameAddr      memtypes.FrameAddr      `toml:"frame_addr" json:"frame_addr"`
	VictimBits     []VictimBit             `toml:"victim_bits" json:"victim_bits"`
}

// AttackConfig is the root of attack_config.toml.
type AttackConfig struct {
	HammerCount      uint64                      `toml:"hammer_count" json:"hammer_count"`
	SegmentVirtAddr  uint64                      `toml:"segment_virt_addr" json:"segment_virt_addr"`
	VictimFrames     []VictimFrame               `toml:"victim_frames" json:"victim_frames"`
	AggressorPatterns map[string]AggressorPattern `toml:"aggressor_patterns" json:"aggressor_patterns"`
}

// IterAggrRows returns every row used as an aggressor across every
// pattern. Rows can repeat if the same row is used in multiple patterns.
func (c *AttackConfig) IterAggrRows() []RowAndInitValue {
	var out []RowAndInitValue
	for _, key := range c.sortedPatternKeys() {
		out = append(out, c.AggressorPatterns[key].Pattern...)
	}
	return out
}

// IterAggrFrames returns every physical frame used as part of any
// aggressor row in any pattern, with duplicates.
func (c *AttackConfig) IterAggrFrames() []memtypes.FrameAddr {
	var out []memtypes.FrameAddr
	for _, row := range c.IterAggrRows() {
		out = append(out, row.Frames...)
	}
	return out
}

// IterAggrPatternsPerVictim returns, for every victim bit of every victim
// frame in declaration order, the AggressorPattern that bit's key refers
// to. The result may repeat the same pattern.
func (c *AttackConfig) IterAggrPatternsPerVictim() ([]AggressorPattern, error) {
	var out []AggressorPattern
	for _, vf := range c.VictimFrames {
		for _, bit := range vf.VictimBits {
			pat, ok := c.AggressorPatterns[bit.AggrPatternKey]
			if !ok {
				return nil, fmt.Errorf("config: victim bit at frame %s references unknown aggressor pattern key %q", vf.FrameAddr, bit.AggrPatternKey)
			}
			out = append(out, pat)
		}
	}
	return out, nil
}

func (c *AttackConfig) sortedPatternKeys() []string {
	keys := make([]string, 0, len(c.AggressorPatterns))
	for k := range c.AggressorPatterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the four structural invariants of §3: victim and
// aggressor rows are disjoint, every source-file page offset appears at
// most once, no two patterns compare equal, and the same aggressor row
// never appears with conflicting init values across patterns. It returns
// the first violation found, each named with the offending address(es)
// so callers can report them directly (matching scenarios S3/S4).
func (c *AttackConfig) Validate() error {
	aggrFrames := make(map[memtypes.FrameAddr]struct{})
	for _, f := range c.IterAggrFrames() {
		aggrFrames[f] = struct{}{}
	}

	var overlap []string
	victimFrameSet := make(map[memtypes.FrameAddr]struct{})
	for _, vf := range c.VictimFrames {
		for _, f := range memtypes.FramesInRow(vf.FrameAddr) {
			victimFrameSet[f] = struct{}{}
		}
	}
	for f := range aggrFrames {
		if _, ok := victimFrameSet[f]; ok {
			overlap = append(overlap, f.String())
		}
	}
	if len(overlap) > 0 {
		sort.Strings(overlap)
		return fmt.Errorf("config: overlap between victim and aggressor rows: %s", strings.Join(overlap, " "))
	}

	seenOffsets := make(map[uint64]struct{})
	for _, vf := range c.VictimFrames {
		if vf.PageFileOffset == nil {
			continue
		}
		key := *vf.PageFileOffset & uint64(memtypes.PageAlignMask)
		if _, dup := seenOffsets[key]; dup {
			return fmt.Errorf("config: the same file page (offset %#x) is mapped to different physical page frames", key)
		}
		seenOffsets[key] = struct{}{}
	}

	keys := c.sortedPatternKeys()
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			a, b := c.AggressorPatterns[keys[i]], c.AggressorPatterns[keys[j]]
			if a.Equal(b) {
				return fmt.Errorf("config: duplicate aggressor pattern detected: %q and %q (%s)", keys[i], keys[j], a.String())
			}
		}
	}

	rowInit := make(map[memtypes.FrameAddr]uint8)
	var conflicts []string
	for _, key := range keys {
		for _, row := range c.AggressorPatterns[key].Pattern {
			first := row.Frames[0]
			if init, ok := rowInit[first]; ok {
				if init != row.Init {
					conflicts = append(conflicts, first.String())
				}
			} else {
				rowInit[first] = row.Init
			}
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return fmt.Errorf("config: some aggressor rows are used with different init values: %s", strings.Join(conflicts, " "))
	}

	return nil
}
