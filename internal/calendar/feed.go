package calendar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"occasio/internal/domain"
)

const feedProdID = "-//occasio//occasiond//EN"

// Feed renders the indexed events as an iCalendar document so the dashboard
// calendar can be subscribed to from any calendar client. Recurring
// categories carry a yearly RRULE; one-off events are plain all-day VEVENTs.
func (x *Index) Feed(name string, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, feedProdID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	// SetText would tag the non-registered prop with VALUE=TEXT.
	calName := ical.NewProp("X-WR-CALNAME")
	calName.Value = name
	cal.Props.Set(calName)

	dtStamp := ical.NewProp(ical.PropDateTimeStamp)
	dtStamp.SetDateTime(now.UTC())

	for _, ev := range x.All() {
		ve := ical.NewEvent()
		ve.Props.SetText(ical.PropUID, ev.ID+"@occasio")
		ve.Props.SetText(ical.PropSummary, ev.Title)
		if ev.Notes != "" {
			ve.Props.SetText(ical.PropDescription, ev.Notes)
		}
		ve.Props.SetText("CATEGORIES", string(ev.Category))
		ve.Props.Set(dtStamp)

		start := ical.NewProp(ical.PropDateTimeStart)
		start.SetDate(domain.DateOnly(ev.Date))
		ve.Props.Set(start)

		if ev.Category.Recurs() {
			opt := rrule.ROption{
				Freq:       rrule.YEARLY,
				Bymonth:    []int{int(ev.Date.Month())},
				Bymonthday: []int{ev.Date.Day()},
			}
			rule := ical.NewProp(ical.PropRecurrenceRule)
			rule.Value = opt.RRuleString()
			ve.Props.Set(rule)
		}

		cal.Children = append(cal.Children, ve.Component)
	}

	// The encoder refuses a VCALENDAR with no components.
	if len(cal.Children) == 0 {
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:%s\r\nEND:VCALENDAR\r\n", feedProdID)
		return buf.Bytes(), nil
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar feed: %w", err)
	}
	return buf.Bytes(), nil
}
