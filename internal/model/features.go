package model

import (
	"sort"
	"strings"
	"time"

	"noshowd/pkg/types"
)

// Feature names produced by Appointment.Features.
const (
	FeatureHourBlock         = "hour_block"
	FeatureDayOfWeek         = "day_of_week"
	FeatureHolidayOrWeekend  = "is_holiday_or_weekend"
	FeatureLeadTimeDays      = "lead_time_days"
	FeatureSameDay           = "same_day_appointment"
	FeatureAppointmentMonth  = "appointment_month"
	FeatureAge               = "age"
	FeatureGenderEncoded     = "gender_encoded"
	FeatureScholarship       = "scholarship"
	FeatureHypertension      = "hypertension"
	FeatureDiabetes          = "diabetes"
	FeatureAlcoholism        = "alcoholism"
	FeatureHandicap          = "handicap"
	FeatureSMSReceived       = "sms_received"
	FeatureRollingNoShowRate = "rolling_no_show_rate"
	FeaturePrevAppointments  = "prev_appointments"
	defaultRollingNoShowRate = 0.2
	maxAge                   = 120
	maxHandicap              = 4
)

// KnownFeatures is the service's feature contract: every feature an artifact
// may consume. Order matches the training pipeline.
var KnownFeatures = []string{
	FeatureHourBlock, FeatureDayOfWeek, FeatureHolidayOrWeekend, FeatureLeadTimeDays,
	FeatureSameDay, FeatureAppointmentMonth,
	FeatureAge, FeatureGenderEncoded, FeatureScholarship, FeatureHypertension, FeatureDiabetes,
	FeatureAlcoholism, FeatureHandicap, FeatureSMSReceived,
	FeatureRollingNoShowRate, FeaturePrevAppointments,
}

var knownFeatureSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(KnownFeatures))
	for _, f := range KnownFeatures {
		m[f] = struct{}{}
	}
	return m
}()

// UnknownFeatures returns the features not covered by KnownFeatures, sorted.
func UnknownFeatures(features []string) []string {
	var out []string
	for _, f := range features {
		if _, ok := knownFeatureSet[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Vector maps feature names to values.
type Vector map[string]float64

// Appointment is a validated /predict request.
type Appointment struct {
	PatientID      int64
	Gender         string
	Age            int
	ScheduledDay   time.Time
	AppointmentDay time.Time
	Neighbourhood  string
	Scholarship    bool
	Hypertension   bool
	Diabetes       bool
	Alcoholism     bool
	Handicap       int
	SMSReceived    bool
}

// Contract describes the inputs a handle consumes.
type Contract struct {
	// Features consumed by the predictor, a subset of KnownFeatures.
	Features []string
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Validate checks req for missing and out-of-range fields and returns the
// parsed appointment. All offending fields are reported at once, in the
// order they appear in the request schema.
func (c Contract) Validate(req types.PredictionRequest) (Appointment, error) {
	var fields []string
	reasons := map[string]string{}
	bad := func(field, reason string) {
		if _, dup := reasons[field]; dup {
			return
		}
		fields = append(fields, field)
		reasons[field] = reason
	}
	var a Appointment

	if req.PatientID == nil {
		bad("patient_id", "required")
	} else {
		a.PatientID = *req.PatientID
	}
	if req.Gender == nil {
		bad("gender", "required")
	} else {
		g := strings.ToUpper(strings.TrimSpace(*req.Gender))
		if g != "M" && g != "F" {
			bad("gender", "must be M or F")
		}
		a.Gender = g
	}
	if req.Age == nil {
		bad("age", "required")
	} else if *req.Age < 0 || *req.Age > maxAge {
		bad("age", "must be between 0 and 120")
	} else {
		a.Age = *req.Age
	}
	if req.ScheduledDay == nil {
		bad("scheduled_day", "required")
	} else if t, ok := parseTimestamp(*req.ScheduledDay); !ok {
		bad("scheduled_day", "must be an ISO-8601 timestamp")
	} else {
		a.ScheduledDay = t
	}
	if req.AppointmentDay == nil {
		bad("appointment_day", "required")
	} else if t, ok := parseTimestamp(*req.AppointmentDay); !ok {
		bad("appointment_day", "must be an ISO-8601 timestamp")
	} else {
		a.AppointmentDay = t
	}
	if req.Neighbourhood == nil {
		bad("neighbourhood", "required")
	} else if strings.TrimSpace(*req.Neighbourhood) == "" {
		bad("neighbourhood", "must not be blank")
	} else {
		a.Neighbourhood = strings.TrimSpace(*req.Neighbourhood)
	}
	boolField := func(name string, v *bool, dst *bool) {
		if v == nil {
			bad(name, "required")
			return
		}
		*dst = *v
	}
	boolField("scholarship", req.Scholarship, &a.Scholarship)
	boolField("hypertension", req.Hypertension, &a.Hypertension)
	boolField("diabetes", req.Diabetes, &a.Diabetes)
	boolField("alcoholism", req.Alcoholism, &a.Alcoholism)
	if req.Handicap == nil {
		bad("handicap", "required")
	} else if *req.Handicap < 0 || *req.Handicap > maxHandicap {
		bad("handicap", "must be between 0 and 4")
	} else {
		a.Handicap = *req.Handicap
	}
	boolField("sms_received", req.SMSReceived, &a.SMSReceived)

	if !a.ScheduledDay.IsZero() && !a.AppointmentDay.IsZero() && a.LeadTimeDays() < 0 {
		bad("appointment_day", "must not be before scheduled_day")
	}
	if len(fields) > 0 {
		return Appointment{}, ErrValidation(fields, reasons)
	}
	return a, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LeadTimeDays is the number of calendar days between booking and appointment.
func (a Appointment) LeadTimeDays() int {
	return int(dateOf(a.AppointmentDay).Sub(dateOf(a.ScheduledDay)).Hours() / 24)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Features applies the serving-time transform. Patient history is not known
// at serving time, so history features take population defaults.
func (a Appointment) Features() Vector {
	lead := a.LeadTimeDays()
	wd := a.AppointmentDay.Weekday()
	return Vector{
		FeatureHourBlock:         float64(a.ScheduledDay.Hour() / 6),
		FeatureDayOfWeek:         float64((int(wd) + 6) % 7),
		FeatureHolidayOrWeekend:  b2f(wd == time.Saturday || wd == time.Sunday),
		FeatureLeadTimeDays:      float64(lead),
		FeatureSameDay:           b2f(lead == 0),
		FeatureAppointmentMonth:  float64(a.AppointmentDay.Month()),
		FeatureAge:               float64(a.Age),
		FeatureGenderEncoded:     b2f(a.Gender == "M"),
		FeatureScholarship:       b2f(a.Scholarship),
		FeatureHypertension:      b2f(a.Hypertension),
		FeatureDiabetes:          b2f(a.Diabetes),
		FeatureAlcoholism:        b2f(a.Alcoholism),
		FeatureHandicap:          float64(a.Handicap),
		FeatureSMSReceived:       b2f(a.SMSReceived),
		FeatureRollingNoShowRate: defaultRollingNoShowRate,
		FeaturePrevAppointments:  0,
	}
}
