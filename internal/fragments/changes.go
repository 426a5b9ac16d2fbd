package fragments

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/fedhost/internal/remote"
)

// manifestChanges lists the manifest lines a reload added ("+ ") and
// removed ("- "). Identical manifests yield nil.
func manifestChanges(before, after remote.Manifest) []string {
	a, errA := yaml.Marshal(before)
	b, errB := yaml.Marshal(after)
	if errA != nil || errB != nil {
		return nil
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(string(a), string(b))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var out []string
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			out = append(out, prefix+strings.TrimSpace(line))
		}
	}
	return out
}
