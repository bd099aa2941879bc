// Package inject implements the injection engine: a pure, side-effect-free
// match-and-mutate pass applied to control, bulk, and interrupt traffic.
// A RuleSet is compiled once at startup (see Compile) and is safe to call
// from any pipeline goroutine concurrently.
package inject

import (
	"bytes"
	"fmt"
)

// Action is the outcome of applying the control rules to a setup packet.
type Action uint8

const (
	// ActionForward means the (possibly rewritten) payload should be
	// forwarded.
	ActionForward Action = iota
	// ActionDrop means the transfer should be acknowledged locally
	// without reaching the other side.
	ActionDrop
	// ActionStall means EP0 should answer with a protocol stall.
	ActionStall
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "Forward"
	case ActionDrop:
		return "Drop"
	case ActionStall:
		return "Stall"
	default:
		return "Unknown"
	}
}

// ruleAction is the action a single compiled control rule carries, kept
// distinct from the engine-level Action so "modify" can be represented
// without a payload already attached to it.
type ruleAction uint8

const (
	ruleModify ruleAction = iota
	ruleIgnore
	ruleStall
)

// SetupPacket is the subset of a control transfer's setup stage the
// engine matches against.
type SetupPacket struct {
	BmRequestType uint8
	BRequest      uint8
	WValue        uint16
	WIndex        uint16
	WLength       uint16
}

// controlMask carries, per matched field, the value to compare against
// and whether the field participates in the match at all (a field
// entirely absent from a rule's JSON entry is a wildcard).
type controlMask struct {
	bmRequestType, haveBmRequestType bool
	wantBmRequestType                uint8
	bRequest, haveBRequest           bool
	wantBRequest                     uint8
	wValue, haveWValue               bool
	wantWValue                       uint16
	wIndex, haveWIndex               bool
	wantWIndex                       uint16
	wLength, haveWLength             bool
	wantWLength                      uint16
}

func (m controlMask) matches(s SetupPacket) bool {
	if m.haveBmRequestType && m.wantBmRequestType != s.BmRequestType {
		return false
	}
	if m.haveBRequest && m.wantBRequest != s.BRequest {
		return false
	}
	if m.haveWValue && m.wantWValue != s.WValue {
		return false
	}
	if m.haveWIndex && m.wantWIndex != s.WIndex {
		return false
	}
	if m.haveWLength && m.wantWLength != s.WLength {
		return false
	}
	return true
}

// ControlRule is one compiled entry of the "control" rule-file section.
type ControlRule struct {
	mask         controlMask
	action       ruleAction
	patterns     [][]byte
	replacements [][]byte
}

// DataRule is one compiled entry of the "bulk" or "int" rule-file
// sections, matched by endpoint address.
type DataRule struct {
	epAddress    uint8
	patterns     [][]byte
	replacements [][]byte
}

// RuleSet is the immutable, compiled form of an injection rule file.
// Zero value is a RuleSet with no rules — every lookup forwards
// unchanged.
type RuleSet struct {
	control []ControlRule
	bulk    map[uint8][]DataRule
	intr    map[uint8][]DataRule
}

// Empty returns a RuleSet that matches nothing, used when no injection
// rule set is configured.
func Empty() *RuleSet {
	return &RuleSet{
		bulk: make(map[uint8][]DataRule),
		intr: make(map[uint8][]DataRule),
	}
}

// ApplyControl implements the control-rule contract: the first rule
// (in declaration order) whose mask matches s wins. Its action decides
// whether payload is forwarded (possibly rewritten), dropped, or
// whether EP0 should stall. warnf receives a human-readable message
// whenever a modify rule is skipped for growing the payload past
// maxTransfer; pass nil to discard warnings.
func (r *RuleSet) ApplyControl(s SetupPacket, payload []byte, maxTransfer int, warnf func(string, ...any)) (Action, []byte) {
	if r == nil {
		return ActionForward, payload
	}
	for _, rule := range r.control {
		if !rule.mask.matches(s) {
			continue
		}
		switch rule.action {
		case ruleStall:
			return ActionStall, nil
		case ruleIgnore:
			return ActionDrop, nil
		case ruleModify:
			return ActionForward, applyModify(rule.patterns, rule.replacements, payload, maxTransfer, warnf)
		}
	}
	return ActionForward, payload
}

// ApplyData implements the data-rule contract: every matching rule for
// epAddress is applied, in declaration order, to the payload.
func (r *RuleSet) ApplyData(epAddress uint8, isInterrupt bool, payload []byte, maxTransfer int, warnf func(string, ...any)) []byte {
	if r == nil {
		return payload
	}
	table := r.bulk
	if isInterrupt {
		table = r.intr
	}
	for _, rule := range table[epAddress] {
		payload = applyModify(rule.patterns, rule.replacements, payload, maxTransfer, warnf)
	}
	return payload
}

// applyModify performs left-to-right, non-overlapping bytewise
// find-replace for every pattern in turn. If the result would exceed
// maxTransfer, the original payload is returned unchanged and warnf (if
// non-nil) is invoked.
func applyModify(patterns, replacements [][]byte, payload []byte, maxTransfer int, warnf func(string, ...any)) []byte {
	out := payload
	for i, pattern := range patterns {
		if len(pattern) == 0 {
			continue
		}
		replaced := bytes.ReplaceAll(out, pattern, replacements[i])
		if len(replaced) > maxTransfer {
			if warnf != nil {
				warnf("inject: rule pattern %d would grow payload to %d bytes (limit %d); skipping", i, len(replaced), maxTransfer)
			}
			return payload
		}
		out = replaced
	}
	return out
}

// String renders a SetupPacket for logging.
func (s SetupPacket) String() string {
	return fmt.Sprintf("bmRequestType=0x%.2x bRequest=0x%.2x wValue=0x%.4x wIndex=0x%.4x wLength=%d",
		s.BmRequestType, s.BRequest, s.WValue, s.WIndex, s.WLength)
}
