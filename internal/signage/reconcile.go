package signage

import (
	"slices"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// ReconcileRightMeta returns meta brought in line with the current right
// object keys: one record per key, defaults for new files, stale records
// dropped, existing records carried over unchanged, sorted by file name.
// The input is not modified.
func ReconcileRightMeta(meta RightMeta, rightKeys []string) RightMeta {
	byFile := make(map[string]RightMetaItem, len(meta.Items))
	for _, it := range meta.Items {
		if _, dup := byFile[it.File]; !dup {
			byFile[it.File] = it
		}
	}

	out := RightMeta{Items: make([]RightMetaItem, 0, len(rightKeys))}
	seen := make(map[string]bool, len(rightKeys))
	for _, k := range rightKeys {
		file := baseName(k)
		if seen[file] {
			continue
		}
		seen[file] = true

		it, ok := byFile[file]
		if !ok {
			it = RightMetaItem{File: file, Targets: []string{}}
		}
		out.Items = append(out.Items, cloneMetaItem(it))
	}

	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].File < out.Items[j].File })
	return out
}

// withoutRecords returns meta minus the records for files.
func withoutRecords(meta RightMeta, files ...string) RightMeta {
	if len(files) == 0 {
		return meta
	}
	out := RightMeta{Items: make([]RightMetaItem, 0, len(meta.Items))}
	for _, it := range meta.Items {
		if !slices.Contains(files, it.File) {
			out.Items = append(out.Items, it)
		}
	}
	return out
}

// Lookup returns the record for file.
func (m RightMeta) Lookup(file string) (RightMetaItem, bool) {
	for _, it := range m.Items {
		if it.File == file {
			return it, true
		}
	}
	return RightMetaItem{}, false
}

func cloneMetaItem(it RightMetaItem) RightMetaItem {
	targets := make([]string, len(it.Targets))
	copy(targets, it.Targets)
	it.Targets = targets
	if it.DurationSeconds != nil {
		d := *it.DurationSeconds
		it.DurationSeconds = &d
	}
	return it
}

// decodeRightMeta parses a stored metadata document. Corrupt input yields an
// empty document so the next reconciliation rebuilds defaults. Records
// without a file name are dropped and targets are normalized.
func decodeRightMeta(data []byte) RightMeta {
	var raw RightMeta
	if err := json.Unmarshal(data, &raw); err != nil {
		return RightMeta{}
	}
	out := RightMeta{Items: make([]RightMetaItem, 0, len(raw.Items))}
	for _, it := range raw.Items {
		it.File = strings.TrimSpace(it.File)
		if it.File == "" {
			continue
		}
		it.Targets = NormalizeTargets(it.Targets)
		if it.DurationSeconds != nil && *it.DurationSeconds <= 0 {
			it.DurationSeconds = nil
		}
		out.Items = append(out.Items, it)
	}
	return out
}

// encodeRightMeta renders meta deterministically. Unchanged input always
// produces identical bytes.
func encodeRightMeta(meta RightMeta) ([]byte, error) {
	if meta.Items == nil {
		meta.Items = []RightMetaItem{}
	}
	return json.MarshalIndent(meta, "", "  ")
}

// NormalizeTargets trims and lowercases store ids, drops blanks and
// duplicates, and keeps first-seen order. The result is never nil.
func NormalizeTargets(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
