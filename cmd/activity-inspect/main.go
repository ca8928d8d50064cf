// activity-inspect dumps the event log of one activity together with the
// completion verdict derived from it. Debugging tool for stuck activities.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	shared "github.com/sitebridge/server/pkg"
	"github.com/sitebridge/server/pkg/domain/activity"
	"github.com/sitebridge/server/pkg/domain/refresh"
	"github.com/sitebridge/server/pkg/infrastructure/database"
	"github.com/sitebridge/server/pkg/types"
)

func main() {
	userID := flag.String("user", "", "User id")
	activityIDStr := flag.String("activity", "", "Activity id (UUID)")
	projectID := flag.String("project", "", "GCP project id (defaults to GOOGLE_CLOUD_PROJECT)")
	dumpPayloads := flag.Bool("payloads", false, "Print full event payloads as JSON")
	flag.Parse()

	if *userID == "" || *activityIDStr == "" {
		fmt.Println("Please provide -user and -activity")
		os.Exit(1)
	}
	activityID, err := uuid.Parse(*activityIDStr)
	if err != nil {
		fmt.Printf("Invalid activity id: %v\n", err)
		os.Exit(1)
	}

	project := *projectID
	if project == "" {
		project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if project == "" {
		project = shared.ProjectID
	}

	ctx := context.Background()
	fsClient, err := firestore.NewClient(ctx, project)
	if err != nil {
		fmt.Printf("Firestore init failed: %v\n", err)
		os.Exit(1)
	}
	db := database.NewFirestoreAdapter(fsClient)

	events, err := db.ListActivityEvents(ctx, *userID, activityID)
	if err != nil {
		fmt.Printf("Failed to list events: %v\n", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("No events found for this activity")
		os.Exit(0)
	}

	fmt.Printf("=== EVENT LOG: %d events ===\n", len(events))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tEvent Time\tKind\tEvent ID")
	fmt.Fprintln(w, "-\t----------\t----\t--------")
	for i, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			i+1, e.EventTime.Format("2006-01-02 15:04:05.000"), e.Payload.Kind(), e.EventID)
	}
	w.Flush()

	if *dumpPayloads {
		fmt.Println("\n=== PAYLOADS ===")
		for _, e := range events {
			raw, err := json.MarshalIndent(e.Payload, "", "  ")
			if err != nil {
				fmt.Printf("%s: marshal failed: %v\n", e.EventID, err)
				continue
			}
			fmt.Printf("%s (%s):\n%s\n", e.EventID, e.Payload.Kind(), raw)
		}
	}

	expected := activity.ExpectedUserSites(events)
	fmt.Printf("\n=== COMPLETION ===\n")
	fmt.Printf("Expected user-sites: %d\n", len(expected))
	for _, id := range expected {
		fmt.Printf("  %s\n", id)
	}

	complete, err := activity.IsComplete(events)
	if err != nil {
		fmt.Printf("Verdict: ERROR (%v)\n", err)
	} else {
		fmt.Printf("Verdict: complete=%v\n", complete)
	}

	start, end := refresh.CoveredRange(events)
	if start != nil && end != nil {
		fmt.Printf("Covered range: %s .. %s\n", start, end)
	} else {
		fmt.Println("Covered range: unknown")
	}

	record, err := db.GetActivity(ctx, *userID, activityID)
	if err != nil {
		fmt.Printf("\nSummary row: not found (%v)\n", err)
		return
	}
	fmt.Printf("\n=== SUMMARY ROW ===\n")
	fmt.Printf("Origin: %s\n", record.Origin)
	fmt.Printf("Start:  %s\n", record.StartTime.Format("2006-01-02 15:04:05.000"))
	if record.EndTime != nil {
		fmt.Printf("End:    %s\n", record.EndTime.Format("2006-01-02 15:04:05.000"))
	} else {
		fmt.Println("End:    still running")
	}
	fmt.Printf("User-sites: %d\n", len(record.UserSiteIDs))

	printKindBreakdown(events)
}

func printKindBreakdown(events []types.ActivityEvent) {
	counts := map[types.EventKind]int{}
	for _, e := range events {
		counts[e.Payload.Kind()]++
	}
	fmt.Println("\n=== KIND BREAKDOWN ===")
	for kind, n := range counts {
		fmt.Printf("%-36s %d\n", kind, n)
	}
}
