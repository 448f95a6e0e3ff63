package domain

import (
	"sort"
	"strings"
)

// ModuleDiff lists the modules a plan change turns on and off.
type ModuleDiff struct {
	Activate   []string `json:"activate"`
	Deactivate []string `json:"deactivate"`
}

func (d ModuleDiff) Empty() bool {
	return len(d.Activate) == 0 && len(d.Deactivate) == 0
}

// DiffModules returns next minus current as Activate and current minus next
// as Deactivate, both sorted.
func DiffModules(current, next []string) ModuleDiff {
	have := toSet(current)
	want := toSet(next)

	diff := ModuleDiff{Activate: []string{}, Deactivate: []string{}}
	for m := range want {
		if _, ok := have[m]; !ok {
			diff.Activate = append(diff.Activate, m)
		}
	}
	for m := range have {
		if _, ok := want[m]; !ok {
			diff.Deactivate = append(diff.Deactivate, m)
		}
	}
	sort.Strings(diff.Activate)
	sort.Strings(diff.Deactivate)
	return diff
}

// NormalizeModules trims, dedupes and sorts module codes.
func NormalizeModules(modules []string) []string {
	set := toSet(modules)
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
