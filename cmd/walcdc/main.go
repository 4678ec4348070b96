// Command walcdc streams row-level changes from a PostgreSQL logical
// replication slot to a downstream sink, tracking its own progress so it can
// resume exactly where it left off after a restart.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
