// Command meshify rewrites dbt project files to adopt mesh constructs:
// groups, access levels, contracts, model versions, project splits, and
// cross-project references.
package main

import (
	"os"

	"github.com/leapstack-labs/meshify/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
