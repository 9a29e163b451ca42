package attendance

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStatus    = errors.New("unknown attendance status")
	ErrUnknownReason    = errors.New("unknown absence reason")
	ErrUnknownAction    = errors.New("unknown shift action")
	ErrUnknownShiftType = errors.New("unknown shift type")
)

type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPresent, StatusAbsent:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

type AbsenceReason string

const (
	ReasonSick      AbsenceReason = "sick"
	ReasonNoBus     AbsenceReason = "no_bus"
	ReasonMissedBus AbsenceReason = "missed_bus"
	ReasonSiteOut   AbsenceReason = "site_out"
	ReasonNoWork    AbsenceReason = "no_work"
	ReasonSafety    AbsenceReason = "safety"
	ReasonTraining  AbsenceReason = "training"
)

// AbsenceReasons lists every reason in display order.
var AbsenceReasons = []AbsenceReason{
	ReasonSick,
	ReasonNoBus,
	ReasonMissedBus,
	ReasonSiteOut,
	ReasonNoWork,
	ReasonSafety,
	ReasonTraining,
}

func ParseAbsenceReason(s string) (AbsenceReason, error) {
	for _, r := range AbsenceReasons {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownReason, s)
}

// Action says which time field a write stamps.
type Action string

const (
	ActionStart Action = "start"
	ActionEnd   Action = "end"
	// ActionLocation updates location data only and never touches time fields.
	ActionLocation Action = "location"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStart, ActionEnd, ActionLocation:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

type ShiftType string

const (
	ShiftDay   ShiftType = "day"
	ShiftNight ShiftType = "night"
)

func ParseShiftType(s string) (ShiftType, error) {
	switch st := ShiftType(s); st {
	case ShiftDay, ShiftNight:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownShiftType, s)
}
