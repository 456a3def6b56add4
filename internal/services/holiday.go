package services

import (
	"sort"
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/us"
)

// WorkdayChecker decides whether the periodic alert sweep runs on a day.
type WorkdayChecker interface {
	IsWorkday(t time.Time) bool
}

// HolidayCalendar answers IsWorkday for one country. An empty code treats
// every day as a workday; "NONE" skips weekends only; "CN" follows the
// official adjusted schedule including make-up working weekends.
type HolidayCalendar struct {
	country  string
	business *cal.BusinessCalendar
}

var holidaySets = map[string][]*cal.Holiday{
	"US": us.Holidays,
	"GB": gb.Holidays,
	"DE": de.Holidays,
	"FR": fr.Holidays,
	"JP": jp.Holidays,
	"AU": au.HolidaysNSW,
	"CA": ca.Holidays,
	"NL": nl.Holidays,
}

func NewHolidayCalendar(country string) *HolidayCalendar {
	h := &HolidayCalendar{country: strings.ToUpper(strings.TrimSpace(country))}
	if set, ok := holidaySets[h.country]; ok {
		h.business = cal.NewBusinessCalendar()
		h.business.Name = h.country
		h.business.AddHoliday(set...)
	}
	return h
}

func (h *HolidayCalendar) IsWorkday(t time.Time) bool {
	switch {
	case h.country == "":
		return true
	case h.country == "CN":
		return isWorkdayChina(t)
	case h.business != nil:
		return h.business.IsWorkday(t)
	default:
		return !cal.IsWeekend(t)
	}
}

func isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	if holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay()); holiday != nil {
		return holiday.IsWork()
	}
	return !cal.IsWeekend(t)
}

// SupportedHolidayCountries lists the codes accepted by alerts.holiday_country.
func SupportedHolidayCountries() []string {
	codes := []string{"CN", "NONE"}
	for code := range holidaySets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
