package entity

import (
	"fmt"
	"strings"
)

// Decision набор флагов итогового решения по кадру
type Decision uint8

const (
	DecisionNone    Decision = 0
	DecisionAnomaly Decision = 1 << 0
	DecisionDefect  Decision = 1 << 1
	DecisionBoth             = DecisionAnomaly | DecisionDefect
)

// Вердикты для автоматики и тегов фабрики
const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
	TagError    = "ERROR"
)

// Has проверяет наличие флага
func (d Decision) Has(flag Decision) bool {
	return d&flag == flag && flag != DecisionNone
}

// Verdict сводит флаги к PASS/FAIL
func (d Decision) Verdict() string {
	if d == DecisionNone {
		return VerdictPass
	}
	return VerdictFail
}

// String: NONE -> "None", остальные в нижнем регистре
func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "None"
	case DecisionAnomaly:
		return "anomaly"
	case DecisionDefect:
		return "defect"
	case DecisionBoth:
		return "both"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	parsed, err := ParseDecision(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDecision разбирает строковую форму Decision
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return DecisionNone, nil
	case "anomaly":
		return DecisionAnomaly, nil
	case "defect":
		return DecisionDefect, nil
	case "both":
		return DecisionBoth, nil
	default:
		return DecisionNone, fmt.Errorf("unknown decision %q", s)
	}
}
