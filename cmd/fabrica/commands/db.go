package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/db"
)

// DbCmd groups database maintenance operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Fabrica database",
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run pending schema migrations",
	RunE:  runDbMigrate,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old completed, failed, and cancelled executions",
	RunE:  runDbCleanup,
}

var dbCleanupOlderThan time.Duration

func init() {
	dbCleanupCmd.Flags().DurationVar(&dbCleanupOlderThan, "older-than", 30*24*time.Hour,
		"Retention window; terminal executions idle longer than this are deleted")

	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Database statistics")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, table := range []string{"executions", "tasks", "gates", "artifacts", "state_transitions", "phase_progress"} {
		var count int
		if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return err
		}
		fmt.Printf("  %-18s %d\n", table, count)
	}

	rows, err := database.Query("SELECT state, COUNT(*) FROM executions GROUP BY state ORDER BY COUNT(*) DESC")
	if err != nil {
		return err
	}
	defer rows.Close()

	first := true
	for rows.Next() {
		var st string
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			return err
		}
		if first {
			fmt.Println("\nExecutions by state:")
			first = false
		}
		fmt.Printf("  %-18s %d\n", st, count)
	}
	return rows.Err()
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	// openDatabase migrates as a side effect of opening.
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Database schema is up to date")
	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	removed, err := db.CleanupOldExecutions(database, dbCleanupOlderThan)
	if err != nil {
		return err
	}

	if removed == 0 {
		fmt.Printf("No terminal executions older than %s\n", dbCleanupOlderThan)
		return nil
	}
	fmt.Printf("Removed %d executions older than %s\n", removed, dbCleanupOlderThan)
	return nil
}
