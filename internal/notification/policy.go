package notification

import (
	"strings"
	"unicode"
)

// ShouldToast reports whether an event of typ with changeType is toast-worthy.
// New and assigned always toast; updated toasts only for approved or rejected.
func ShouldToast(typ, changeType string) bool {
	switch typ {
	case TypeNew, TypeAssigned:
		return true
	case TypeUpdated:
		return changeType == ChangeApproved || changeType == ChangeRejected
	default:
		return false
	}
}

func toastForNew(ev Event) Toast {
	return Toast{
		Title:     "New " + strings.ToLower(label(ev.Namespace)),
		Message:   message(ev),
		Severity:  SeverityInfo,
		Priority:  priority(ev.Item),
		ActionURL: ev.Item.URL,
	}
}

func toastForUpdated(ev Event) Toast {
	sev := SeverityInfo
	switch ev.ChangeType {
	case ChangeApproved:
		sev = SeveritySuccess
	case ChangeRejected:
		sev = SeverityError
	}

	return Toast{
		Title:     label(ev.Namespace) + " " + strings.ReplaceAll(ev.ChangeType, "_", " "),
		Message:   message(ev),
		Severity:  sev,
		Priority:  priority(ev.Item),
		ActionURL: ev.Item.URL,
	}
}

func toastForAssigned(ev Event) Toast {
	sev := SeverityInfo
	if priority(ev.Item) == "high" || priority(ev.Item) == "critical" {
		sev = SeverityWarning
	}

	return Toast{
		Title:     label(ev.Namespace) + " assigned to you",
		Message:   message(ev),
		Severity:  sev,
		Priority:  priority(ev.Item),
		ActionURL: ev.Item.URL,
	}
}

// label turns "risk_alert" into "Risk alert".
func label(namespace string) string {
	s := strings.ReplaceAll(strings.TrimSpace(namespace), "_", " ")
	if s == "" {
		return "Item"
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func message(ev Event) string {
	switch {
	case ev.Message != "":
		return ev.Message
	case ev.Item.Title != "":
		return ev.Item.Title
	default:
		return string(ev.Item.ID)
	}
}

func priority(item Item) string {
	if item.Priority == "" {
		return "normal"
	}
	return strings.ToLower(item.Priority)
}
