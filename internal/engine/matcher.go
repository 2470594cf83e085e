package engine

import (
	"math"

	"github.com/roach88/varpol/internal/ir"
)

// Match priorities. Lower is more specific.
const (
	PriorityExact         = 0
	PriorityNamespaceWide = math.MaxUint8
)

// MatchPriority reports whether p applies to (ns, name) and, if so, how
// specific the match is: 0 for an exact name, one per wildcard position
// used, PriorityNamespaceWide for a policy without a name.
//
// A wildcard matches exactly one decimal digit, and the policy name and
// variable name must have the same length in code units.
func MatchPriority(p ir.Policy, ns ir.Namespace, name string) (int, bool) {
	if p.Namespace != ns {
		return 0, false
	}
	if p.NamespaceWide() {
		return PriorityNamespaceWide, true
	}

	pattern := ir.CodeUnits(p.Name)
	target := ir.CodeUnits(name)
	if len(pattern) != len(target) {
		return 0, false
	}

	priority := PriorityExact
	for i, pc := range pattern {
		tc := target[i]
		if pc == ir.Wildcard {
			if tc < '0' || tc > '9' {
				return 0, false
			}
			if priority < PriorityNamespaceWide-1 {
				priority++
			}
			continue
		}
		if pc != tc {
			return 0, false
		}
	}
	return priority, true
}

// Resolve returns the most specific policy for (ns, name). Among equally
// specific matches the earliest registered wins.
func (t *Table) Resolve(ns ir.Namespace, name string) (ir.PolicyRecord, int, bool) {
	var (
		best     ir.PolicyRecord
		bestPrio int
		found    bool
	)
	for _, rec := range t.records {
		prio, ok := MatchPriority(rec.Policy, ns, name)
		if !ok {
			continue
		}
		if !found || prio < bestPrio {
			best, bestPrio, found = rec, prio, true
		}
		if bestPrio == PriorityExact {
			break
		}
	}
	return best, bestPrio, found
}

// BestMatch applies the Resolve rules to a decoded policy list, such as
// a parsed dump. It returns the index of the winning policy and its
// priority.
func BestMatch(policies []ir.Policy, ns ir.Namespace, name string) (int, int, bool) {
	best, bestPrio := -1, 0
	for i, p := range policies {
		prio, ok := MatchPriority(p, ns, name)
		if !ok {
			continue
		}
		if best < 0 || prio < bestPrio {
			best, bestPrio = i, prio
		}
		if bestPrio == PriorityExact {
			break
		}
	}
	return best, bestPrio, best >= 0
}
