package inject

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ruleFile is the on-disk JSON shape: three top-level sections, as
// named by the external interface's rule-file contract.
type ruleFile struct {
	Control []controlEntry `json:"control"`
	Bulk    []dataEntry    `json:"bulk"`
	Int     []dataEntry    `json:"int"`
}

// numericField accepts either a JSON number (always decimal) or a JSON
// string, decimal unless 0x/0X-prefixed — the parsing rule the rule
// file's numeric fields resolve to, so a config author can write either
// 129 or "0x81" for the same endpoint address without ambiguity.
type numericField struct {
	set   bool
	value uint64
}

func (n *numericField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := parseNumericString(s)
		if err != nil {
			return err
		}
		n.value = v
		n.set = true
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n.value = uint64(f)
	n.set = true
	return nil
}

func parseNumericString(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

type controlEntry struct {
	BmRequestType  numericField `json:"bmRequestType"`
	BRequest       numericField `json:"bRequest"`
	WValue         numericField `json:"wValue"`
	WIndex         numericField `json:"wIndex"`
	WLength        numericField `json:"wLength"`
	Enable         bool         `json:"enable"`
	Action         string       `json:"action"`
	ContentPattern []string     `json:"content_pattern"`
	Replacement    string       `json:"replacement"`
}

type dataEntry struct {
	EPAddress      numericField `json:"ep_address"`
	Enable         bool         `json:"enable"`
	ContentPattern []string     `json:"content_pattern"`
	Replacement    string       `json:"replacement"`
}

// Compile parses rule file bytes and builds an immutable RuleSet.
// Hex-escape decode errors and malformed masks are rejected here, at
// load time, rather than surfacing as match-time failures later.
func Compile(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("inject: compile: %w", err)
	}

	rs := Empty()
	for i, entry := range file.Control {
		if !entry.Enable {
			continue
		}
		rule, err := compileControlEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("inject: compile: control rule %d: %w", i, err)
		}
		rs.control = append(rs.control, rule)
	}
	for i, entry := range file.Bulk {
		if !entry.Enable {
			continue
		}
		rule, err := compileDataEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("inject: compile: bulk rule %d: %w", i, err)
		}
		rs.bulk[rule.epAddress] = append(rs.bulk[rule.epAddress], rule)
	}
	for i, entry := range file.Int {
		if !entry.Enable {
			continue
		}
		rule, err := compileDataEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("inject: compile: int rule %d: %w", i, err)
		}
		rs.intr[rule.epAddress] = append(rs.intr[rule.epAddress], rule)
	}
	return rs, nil
}

func compileControlEntry(entry controlEntry) (ControlRule, error) {
	mask := controlMask{}
	if entry.BmRequestType.set {
		mask.haveBmRequestType, mask.wantBmRequestType = true, uint8(entry.BmRequestType.value)
	}
	if entry.BRequest.set {
		mask.haveBRequest, mask.wantBRequest = true, uint8(entry.BRequest.value)
	}
	if entry.WValue.set {
		mask.haveWValue, mask.wantWValue = true, uint16(entry.WValue.value)
	}
	if entry.WIndex.set {
		mask.haveWIndex, mask.wantWIndex = true, uint16(entry.WIndex.value)
	}
	if entry.WLength.set {
		mask.haveWLength, mask.wantWLength = true, uint16(entry.WLength.value)
	}

	action, err := parseAction(entry.Action)
	if err != nil {
		return ControlRule{}, err
	}
	rule := ControlRule{mask: mask, action: action}
	if action == ruleModify {
		patterns, replacements, err := compilePatterns(entry.ContentPattern, entry.Replacement)
		if err != nil {
			return ControlRule{}, err
		}
		rule.patterns, rule.replacements = patterns, replacements
	}
	return rule, nil
}

func compileDataEntry(entry dataEntry) (DataRule, error) {
	patterns, replacements, err := compilePatterns(entry.ContentPattern, entry.Replacement)
	if err != nil {
		return DataRule{}, err
	}
	return DataRule{
		epAddress:    uint8(entry.EPAddress.value),
		patterns:     patterns,
		replacements: replacements,
	}, nil
}

// parseAction maps the rule file's action string to a ruleAction.
// Absent or "modify" (the default) selects the modify behavior; a
// data-rule entry never sets this field and always gets ruleModify.
func parseAction(s string) (ruleAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "modify":
		return ruleModify, nil
	case "ignore":
		return ruleIgnore, nil
	case "stall":
		return ruleStall, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// compilePatterns decodes every content_pattern entry and the shared
// replacement string from \xHH hex-escape syntax, rejecting malformed
// escapes immediately.
func compilePatterns(patterns []string, replacement string) ([][]byte, [][]byte, error) {
	decodedPatterns := make([][]byte, len(patterns))
	for i, p := range patterns {
		b, err := decodeHexEscapes(p)
		if err != nil {
			return nil, nil, fmt.Errorf("content_pattern[%d]: %w", i, err)
		}
		decodedPatterns[i] = b
	}
	replacementBytes, err := decodeHexEscapes(replacement)
	if err != nil {
		return nil, nil, fmt.Errorf("replacement: %w", err)
	}
	decodedReplacements := make([][]byte, len(patterns))
	for i := range decodedReplacements {
		decodedReplacements[i] = replacementBytes
	}
	return decodedPatterns, decodedReplacements, nil
}

// decodeHexEscapes turns a string containing \xHH escapes (and literal
// bytes elsewhere) into its raw byte sequence.
func decodeHexEscapes(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		if i+3 >= len(s) || s[i+1] != 'x' {
			return nil, fmt.Errorf("malformed escape at offset %d", i)
		}
		v, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed hex escape %q at offset %d: %w", s[i:i+4], i, err)
		}
		out = append(out, byte(v))
		i += 3
	}
	return out, nil
}
