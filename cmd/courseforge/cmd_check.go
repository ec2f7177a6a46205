package main

import (
	"flag"
	"fmt"

	"github.com/google/uuid"
)

// cmdCheck runs the consistency check for the configured learner, or for
// the learner named by --learner.
func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	repair := fs.Bool("repair", false, "remove dangling references and duplicates")
	learner := fs.String("learner", "", "learner id (defaults to the configured learner)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, local, closeLog, err := openLocalApp(ctx, "check.log")
	if err != nil {
		return err
	}
	defer closeLog()
	defer app.Close()

	var learnerID uuid.UUID
	if *learner != "" {
		learnerID, err = uuid.Parse(*learner)
		if err != nil {
			return fmt.Errorf("invalid --learner: %w", err)
		}
	} else if learnerID, err = local.LearnerID(); err != nil {
		return err
	}

	report, err := app.Engine.CheckConsistency(ctx, learnerID, *repair)
	if err != nil {
		return fmt.Errorf("check learner %s: %w", learnerID, err)
	}

	if len(report.Violations) == 0 {
		fmt.Println("✓ No invariant violations")
		return nil
	}

	fmt.Printf("Found %d violation(s):\n", len(report.Violations))
	for _, v := range report.Violations {
		fmt.Printf("  - %s\n", v)
	}
	if len(report.MissingCourses) > 0 {
		fmt.Printf("Missing courses: %d\n", len(report.MissingCourses))
	}
	if report.FolderRemovals > 0 {
		fmt.Printf("Folder entries to remove: %d\n", report.FolderRemovals)
	}

	if report.Repaired {
		fmt.Println("✓ Repaired")
		return nil
	}
	fmt.Println("\nRun 'courseforge check --repair' to fix.")
	return fmt.Errorf("%d violation(s) found", len(report.Violations))
}
