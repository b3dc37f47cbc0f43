package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"eventhub/internal/model"
)

var (
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

const displayLayout = "Mon Jan 2 2006 15:04"

func formatWhen(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "unscheduled"
	}
	return t.In(loc).Format(displayLayout)
}

func printEvents(w io.Writer, events []model.Event, loc *time.Location, asJSON bool) error {
	if asJSON {
		if events == nil {
			events = []model.Event{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, gray("No events found"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tTITLE\tLOCATION\tATTENDEES\t")
	for _, ev := range events {
		count := fmt.Sprint(ev.AttendeeCount)
		if ev.JoinedByCurrentUser {
			count += " (joined)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", ev.ID, formatWhen(ev.OccursAt, loc), ev.Title, ev.Location, count)
	}
	return tw.Flush()
}

func printEventDetail(w io.Writer, ev model.Event, loc *time.Location) {
	fmt.Fprintln(w, bold(ev.Title))
	fmt.Fprintf(w, "%s  %s\n", gray("when:"), formatWhen(ev.OccursAt, loc))
	fmt.Fprintf(w, "%s  %s\n", gray("where:"), ev.Location)
	if ev.OrganizerName != "" {
		fmt.Fprintf(w, "%s  %s\n", gray("organizer:"), ev.OrganizerName)
	}
	attendees := fmt.Sprint(ev.AttendeeCount)
	if ev.JoinedByCurrentUser {
		attendees += " " + green("(you joined)")
	}
	fmt.Fprintf(w, "%s  %s\n", gray("attendees:"), attendees)
	if desc := strings.TrimSpace(ev.Description); desc != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, desc)
	}
}

// printMessage prints the backend's message, or fallback when it sent none.
func printMessage(w io.Writer, msg, fallback string) {
	if strings.TrimSpace(msg) == "" {
		msg = fallback
	}
	fmt.Fprintln(w, green(msg))
}
