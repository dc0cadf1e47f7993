package protocol

import "strings"

// BuildWindow concatenates the text of pages whose index falls within
// [center-span, center+span], clipped to the valid index range, in
// index order with a blank-line separator. span = 0 degenerates to the
// single center page. Pure function: identical inputs yield identical
// window text. Returns empty text and the unchanged center when no
// page in range has text.
func BuildWindow(pages []Page, center, span int) (string, int) {
	if len(pages) == 0 || span < 0 {
		return "", center
	}
	lo, hi := center-span, center+span
	var chunks []string
	for _, p := range pages {
		if p.Index < lo || p.Index > hi {
			continue
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			chunks = append(chunks, t)
		}
	}
	return strings.Join(chunks, "\n\n"), center
}

// WidenSeeds expands each seed index by ±span, clips to [0, maxIndex],
// deduplicates, and returns the union sorted ascending. The result is
// always a superset of the seeds themselves.
func WidenSeeds(seeds []int, span, maxIndex int) []int {
	if span < 0 {
		span = 0
	}
	seen := map[int]struct{}{}
	for _, s := range seeds {
		for i := s - span; i <= s+span; i++ {
			if i < 0 || i > maxIndex {
				continue
			}
			seen[i] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sortInts(out)
	return out
}

func sortInts(a []int) {
	// insertion sort; seed sets are tiny
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// MaxPageIndex returns the highest page index, or -1 for no pages.
func MaxPageIndex(pages []Page) int {
	max := -1
	for _, p := range pages {
		if p.Index > max {
			max = p.Index
		}
	}
	return max
}
