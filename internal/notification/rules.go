package notification

import (
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tphakala/safetynet-go/internal/feed"
	"github.com/tphakala/safetynet-go/internal/geo"
)

// maxBodyRunes bounds notification bodies; push services truncate long text anyway.
const maxBodyRunes = 240

// Classify maps an event to an intent using the classification table. It returns
// false for events no rule matches. observerID selects watcher-only rules;
// self-suppression is the dispatcher's job and is not applied here.
func Classify(ev feed.Event, observerID string) (*Intent, bool) {
	if ev.Kind == feed.Delete {
		return nil, false
	}

	switch after := ev.After.(type) {
	case *feed.PanicAlertRow:
		before, _ := ev.Before.(*feed.PanicAlertRow)
		return classifyPanic(ev.Kind, before, after)
	case *feed.IncidentRow:
		before, _ := ev.Before.(*feed.IncidentRow)
		return classifyIncident(ev.Kind, before, after)
	case *feed.LookAfterMeRow:
		if !after.Watches(observerID) {
			return nil, false
		}
		before, _ := ev.Before.(*feed.LookAfterMeRow)
		return classifyLookAfterMe(ev.Kind, before, after)
	}
	// Presence, messages and panic movement logs never notify.
	return nil, false
}

func classifyPanic(kind feed.ChangeKind, before, after *feed.PanicAlertRow) (*Intent, bool) {
	loc := after.Location()
	intent := &Intent{
		RelatedType: RelatedPanic,
		RelatedID:   after.ID,
		Kind:        RelatedPanic,
		TargetURL:   "/panic/" + after.ID,
		Location:    &loc,
	}

	switch {
	case kind == feed.Insert && after.Status == feed.StatusActive:
		intent.EventType = EventPanicCreated
		intent.Priority = PriorityCritical
		intent.Channels = Channels{Push: true, InApp: true}
		intent.Title = "Panic alert nearby"
		intent.Body = bodyOr(after.Message, "Someone in your network has raised a panic alert and may need help.")
		return intent, true

	case kind == feed.Update && after.Status == feed.StatusEnded &&
		(before == nil || before.Status != feed.StatusEnded):
		intent.EventType = EventPanicEnded
		intent.Priority = PriorityImportant
		intent.Channels = Channels{InApp: true}
		intent.Title = "Panic alert ended"
		intent.Body = "The panic alert has been ended."
		return intent, true
	}
	// Movement and other updates of a running alert.
	return nil, false
}

func classifyIncident(kind feed.ChangeKind, before, after *feed.IncidentRow) (*Intent, bool) {
	loc := after.Location()
	intent := &Intent{
		RelatedType: RelatedIncident,
		RelatedID:   after.ID,
		Kind:        RelatedIncident,
		TargetURL:   "/incidents/" + after.ID,
		Location:    &loc,
	}

	switch kind {
	case feed.Insert:
		intent.Priority = PriorityImportant
		intent.Channels = Channels{Push: true, InApp: true}
		if after.IsAmber() {
			intent.EventType = EventAmberCreated
			intent.Kind = feed.IncidentTypeAmber
			intent.Title = "Amber alert"
			intent.Body = bodyOr(after.Description, bodyOr(after.Title, "A missing person alert has been issued."))
			return intent, true
		}
		intent.EventType = EventIncidentCreated
		intent.GeoFiltered = true
		intent.Title = incidentLabel(after.Type) + " reported nearby"
		intent.Body = bodyOr(after.Description, bodyOr(after.Title, "A new incident was reported near you."))
		return intent, true

	case feed.Update:
		if !statusChanged(before, after) {
			return nil, false
		}
		intent.EventType = eventIncidentStatusPrefix + after.Status
		intent.Channels = Channels{InApp: true}
		intent.Priority = PriorityImportant
		if after.Status == feed.StatusResolved {
			intent.Priority = PriorityInfo
		}
		if after.IsAmber() {
			intent.Kind = feed.IncidentTypeAmber
		}
		intent.Title = incidentLabel(after.Type) + " " + after.Status
		intent.Body = bodyOr(after.Title, "An incident you may be following changed status.")
		return intent, true
	}
	return nil, false
}

// statusChanged reports an incident status transition. Without the previous
// status any non-initial status counts. The dispatcher fills a missing old row
// from the last status it saw, so only the first sighting of an entity lands
// here.
func statusChanged(before, after *feed.IncidentRow) bool {
	if before == nil || before.Status == "" {
		return after.Status != feed.StatusActive
	}
	return before.Status != after.Status
}

func classifyLookAfterMe(kind feed.ChangeKind, before, after *feed.LookAfterMeRow) (*Intent, bool) {
	intent := &Intent{
		RelatedType: RelatedLookAfterMe,
		RelatedID:   after.ID,
		Kind:        RelatedLookAfterMe,
		Priority:    PriorityInfo,
		Channels:    Channels{InApp: true},
		TargetURL:   "/look-after-me/" + after.ID,
		Location:    after.LiveLocation(),
	}

	switch {
	case kind == feed.Insert:
		intent.EventType = EventLookAfterMeStarted
		intent.Title = "Look After Me started"
		intent.Body = "Someone you watch over started a journey."
		if after.Destination != "" {
			intent.Body = "Someone you watch over is on the way to " + after.Destination + "."
		}
		return intent, true

	case kind == feed.Update && finished(after.Status) && (before == nil || running(before.Status)):
		intent.EventType = eventLookAfterMePrefix + after.Status
		if after.Status == feed.StatusArrived {
			intent.Title = "Arrived safely"
			intent.Body = "The person you watch over has arrived."
		} else {
			intent.Title = "Look After Me cancelled"
			intent.Body = "The journey was cancelled."
		}
		return intent, true
	}
	return nil, false
}

func running(status string) bool {
	return status == "" || status == feed.StatusActive || status == feed.StatusLate
}

func finished(status string) bool {
	return status == feed.StatusArrived || status == feed.StatusCancelled
}

// incidentLabel turns an incident type such as "road_closure" into "Road Closure".
func incidentLabel(incidentType string) string {
	label := strings.TrimSpace(strings.ReplaceAll(incidentType, "_", " "))
	if label == "" {
		return "Incident"
	}
	return cases.Title(language.English).String(label)
}

// bodyOr returns the plain-text form of rich, or fallback when it is empty.
func bodyOr(rich, fallback string) string {
	text := plainText(rich)
	if text == "" {
		return fallback
	}
	return text
}

// plainText strips markup from user-authored descriptions and bounds the length.
func plainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	text := strings.Join(strings.Fields(html2text.HTML2Text(s)), " ")
	if r := []rune(text); len(r) > maxBodyRunes {
		text = string(r[:maxBodyRunes-1]) + "…"
	}
	return text
}

// locationOf is used for geo filtering; intents without coordinates pass.
func locationOf(i *Intent) (geo.Point, bool) {
	if i.Location == nil {
		return geo.Point{}, false
	}
	return *i.Location, true
}
