package whitelistkit

import (
	"sort"
	"time"
)

// Status is the access state of one subject derived from its grants.
type Status struct {
	Active    bool       `json:"active"`
	Permanent bool       `json:"permanent"`
	Expired   bool       `json:"expired"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Canonical is the earliest permanent grant, or the grant the current
	// stack is counted from.
	Canonical *Grant `json:"-"`

	// Stacked lists the grants whose durations were summed, oldest first.
	Stacked []*Grant `json:"-"`
}

func addDuration(t time.Time, value int, unit DurationType) time.Time {
	if unit == DurationMonths {
		return t.AddDate(0, value, 0)
	}
	return t.AddDate(0, 0, value)
}

// ResolveStatus computes access for one subject.
//
// Any usable permanent grant wins. Otherwise usable grants with a positive
// duration are stacked: durations are summed (months and days separately,
// months applied first) onto the earliest grant of the stack. A grant that
// had already run out when the next one was issued closes its stack, so an
// old lapsed grant can never extend newer access. When nothing is active
// the latest individual expiration is reported.
func ResolveStatus(grants []Grant, now time.Time) Status {
	var permanent *Grant
	var timed []*Grant
	var lastSeen, lastTimed *time.Time

	for i := range grants {
		g := &grants[i]
		if !g.Usable() {
			continue
		}
		if g.IsPermanent() {
			if permanent == nil || g.GrantedAt.Before(permanent.GrantedAt) {
				permanent = g
			}
			continue
		}
		exp, _ := g.IndividualExpiration()
		if lastSeen == nil || exp.After(*lastSeen) {
			e := exp
			lastSeen = &e
		}
		if *g.DurationValue > 0 {
			timed = append(timed, g)
			if lastTimed == nil || exp.After(*lastTimed) {
				e := exp
				lastTimed = &e
			}
		}
	}

	if permanent != nil {
		return Status{Active: true, Permanent: true, Canonical: permanent}
	}

	if len(timed) == 0 {
		if lastSeen == nil {
			return Status{}
		}
		return Status{Expired: true, ExpiresAt: lastSeen}
	}

	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].GrantedAt.Before(timed[j].GrantedAt)
	})

	var (
		head   *Grant
		stack  []*Grant
		months int
		days   int
		end    time.Time
	)
	for _, g := range timed {
		if head != nil && g.GrantedAt.After(end) {
			head = nil
		}
		if head == nil {
			head = g
			stack = stack[:0:0]
			months, days = 0, 0
		}
		if g.DurationType == DurationMonths {
			months += *g.DurationValue
		} else {
			days += *g.DurationValue
		}
		stack = append(stack, g)
		end = head.GrantedAt.AddDate(0, months, 0).AddDate(0, 0, days)
	}

	if !end.After(now) {
		return Status{Expired: true, ExpiresAt: lastTimed, Canonical: head, Stacked: stack}
	}
	return Status{Active: true, ExpiresAt: &end, Canonical: head, Stacked: stack}
}
