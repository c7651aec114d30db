package api

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Mode selects which releases an installation follows.
type Mode string

const (
	ModeStable       Mode = "STABLE"
	ModeBleedingEdge Mode = "BLEEDING_EDGE"
)

// ParseMode parses an update mode. The empty string selects ModeStable.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ModeStable:
		return ModeStable, nil
	case ModeBleedingEdge:
		return ModeBleedingEdge, nil
	default:
		return "", fmt.Errorf("unknown update mode %q (valid: %s, %s)", s, ModeStable, ModeBleedingEdge)
	}
}

// Release types reported by the server.
const (
	TypeRelease = "release"
	TypeBranch  = "branch"
)

// Release is one installable version.
type Release struct {
	Name     string `json:"name" yaml:"name"`
	Revision string `json:"revision" yaml:"revision"`
	Type     string `json:"type" yaml:"type"`
}

// Stable reports whether r is a tagged stable release.
func (r Release) Stable() bool {
	return r.Type != TypeBranch && IsStable(r.Name)
}

var stablePattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

// IsStable reports whether name is a plain x.y.z version. Manifests of
// stable versions never change.
func IsStable(name string) bool {
	return stablePattern.MatchString(name)
}

// SortReleases orders stable releases newest first, followed by the rest
// in their original order.
func SortReleases(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]
		if a.Stable() != b.Stable() {
			return a.Stable()
		}
		if !a.Stable() {
			return false
		}
		return greater(a.Name, b.Name)
	})
}

func greater(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.GreaterThan(vb)
}

// Latest returns the release mode follows: the newest stable release, or
// the first branch for ModeBleedingEdge.
func Latest(releases []Release, mode Mode) (Release, bool) {
	sorted := append([]Release(nil), releases...)
	SortReleases(sorted)
	for _, r := range sorted {
		if mode == ModeBleedingEdge && r.Type == TypeBranch {
			return r, true
		}
		if mode != ModeBleedingEdge && r.Stable() {
			return r, true
		}
	}
	return Release{}, false
}

// Find returns the release with name or revision ref.
func Find(releases []Release, ref string) (Release, bool) {
	for _, r := range releases {
		if r.Name == ref || r.Revision == ref {
			return r, true
		}
	}
	return Release{}, false
}

// Newer reports whether candidate is a higher version than current. Non
// semver names never compare as newer.
func Newer(candidate, current string) bool {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	return c.GreaterThan(cur)
}
