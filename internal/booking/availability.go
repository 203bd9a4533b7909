package booking

import (
	"sort"
	"time"
)

// OverlapPolicy controls how slots from templates with overlapping windows on
// the same date are reported. The resolver never merges unilaterally; the
// caller picks the policy.
type OverlapPolicy string

const (
	// OverlapKeepBoth reports each template's slots independently.
	OverlapKeepBoth OverlapPolicy = "keep_both"
	// OverlapMerge collapses slots with identical boundaries into one entry
	// with summed capacity.
	OverlapMerge OverlapPolicy = "merge"
)

// TemplatesForDate filters templates down to the ones governing the given
// date. Exact-date templates take precedence: when any active template names
// the date explicitly, recurring day-of-week templates are shadowed.
func TemplatesForDate(templates []ScheduleTemplate, date time.Time) []ScheduleTemplate {
	var exact, recurring []ScheduleTemplate

	y, m, d := date.Date()
	for _, tpl := range templates {
		if !tpl.Active {
			continue
		}
		if tpl.OnDate != nil {
			oy, om, od := tpl.OnDate.Date()
			if oy == y && om == m && od == d {
				exact = append(exact, tpl)
			}
			continue
		}
		if tpl.DayOfWeek != nil && *tpl.DayOfWeek == date.Weekday() {
			recurring = append(recurring, tpl)
		}
	}

	if len(exact) > 0 {
		return exact
	}
	return recurring
}

// SlotWindow returns the boundaries of the template slot containing t, aligned
// to the template's granularity. ok is false when t falls outside the window
// or inside a trailing remainder shorter than one slot.
func SlotWindow(tpl ScheduleTemplate, t TimeOfDay) (start, end TimeOfDay, ok bool) {
	if t < tpl.StartTime || t >= tpl.EndTime {
		return 0, 0, false
	}

	offset := int(t-tpl.StartTime) / tpl.SlotMinutes * tpl.SlotMinutes
	start = tpl.StartTime.Add(offset)
	end = start.Add(tpl.SlotMinutes)
	if end > tpl.EndTime {
		return 0, 0, false
	}
	return start, end, true
}

// ResolveSlots derives the bookable slots for one doctor on one date. It is a
// pure function of its inputs: templates are partitioned into fixed slots of
// the template's own granularity, booked counts come from the supplied
// non-cancelled appointments, and only slots with remaining capacity are
// returned.
func ResolveSlots(templates []ScheduleTemplate, appointments []Appointment, date time.Time, policy OverlapPolicy) []Slot {
	var slots []Slot

	for _, tpl := range TemplatesForDate(templates, date) {
		for start := tpl.StartTime; start.Add(tpl.SlotMinutes) <= tpl.EndTime; start = start.Add(tpl.SlotMinutes) {
			end := start.Add(tpl.SlotMinutes)
			booked := countBooked(appointments, start, end)
			remaining := tpl.Capacity - booked
			if remaining <= 0 {
				continue
			}
			slots = append(slots, Slot{
				TemplateID: tpl.ID,
				Start:      start,
				End:        end,
				Capacity:   tpl.Capacity,
				Remaining:  remaining,
			})
		}
	}

	if policy == OverlapMerge {
		slots = mergeSlots(slots)
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start != slots[j].Start {
			return slots[i].Start < slots[j].Start
		}
		return slots[i].End < slots[j].End
	})

	return slots
}

// countBooked counts non-cancelled appointments whose time falls in
// [start, end). Counting by time window rather than template reference keeps
// ad-hoc bookings in the same window visible to capacity math.
func countBooked(appointments []Appointment, start, end TimeOfDay) int {
	n := 0
	for _, a := range appointments {
		if a.Status == StatusCancelled {
			continue
		}
		if a.VisitTime >= start && a.VisitTime < end {
			n++
		}
	}
	return n
}

func mergeSlots(slots []Slot) []Slot {
	type window struct{ start, end TimeOfDay }

	merged := make(map[window]*Slot, len(slots))
	order := make([]window, 0, len(slots))

	for _, s := range slots {
		key := window{s.Start, s.End}
		if existing, found := merged[key]; found {
			existing.Capacity += s.Capacity
			existing.Remaining += s.Remaining
			continue
		}
		copied := s
		merged[key] = &copied
		order = append(order, key)
	}

	out := make([]Slot, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}
