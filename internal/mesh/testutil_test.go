package mesh

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/meshify/internal/change"
	"github.com/leapstack-labs/meshify/internal/dbt"
	"github.com/leapstack-labs/meshify/internal/project"
)

// Unique IDs of the jaffle_shop fixture, a small project with enough shape
// to exercise every planner: staged models reading sources, a contracted
// mart with downstream consumers, a generic test, macros and a group.
const (
	stgOrdersID   = "model.jaffle_shop.stg_orders"
	stgPaymentsID = "model.jaffle_shop.stg_payments"
	ordersID      = "model.jaffle_shop.orders"
	customersID   = "model.jaffle_shop.customers"
	orderTestID   = "test.jaffle_shop.unique_orders_order_id.4a1b2c"
	rawOrdersID   = "source.jaffle_shop.raw.orders"
	rawPaymentsID = "source.jaffle_shop.raw.payments"
)

const (
	stgOrdersSQL   = "select * from {{ source('raw', 'orders') }}\n"
	stgPaymentsSQL = "select * from {{ source('raw', 'payments') }}\n"
	ordersSQL      = "select {{ cents_to_dollars('amount') }} as amount from {{ ref('stg_orders') }}\n"
	customersSQL   = "select * from {{ ref('orders') }} left join {{ ref('stg_payments') }} using (order_id)\n"
)

func jaffleFiles() map[string]string {
	return map[string]string{
		"dbt_project.yml": `name: jaffle_shop
version: "1.0.0"
config-version: 2
profile: jaffle_shop
model-paths: ["models"]
models:
  jaffle_shop:
    +materialized: view
`,
		"packages.yml": `packages:
  - package: dbt-labs/dbt_utils
    version: 1.1.1
`,
		"models/docs.md": `{% docs orders_status %}
Lifecycle status of an order.
{% enddocs %}
`,
		"models/_groups.yml": `groups:
  - name: finance
    owner:
      name: Finance Team
`,
		"models/staging/_sources.yml": `version: 2
sources:
  - name: raw
    database: raw_db
    tables:
      - name: orders
        description: Raw orders ledger.
      - name: payments
`,
		"models/staging/_staging.yml": `version: 2
models:
  - name: stg_orders
    description: "Staged orders. {{ doc('orders_status') }}"
  - name: stg_payments
`,
		"models/marts/_marts.yml": `version: 2
models:
  - name: orders
    description: Order facts.
    columns:
      - name: Order_ID
        description: Primary key.
  - name: customers
`,
		"models/staging/stg_orders.sql":   stgOrdersSQL,
		"models/staging/stg_payments.sql": stgPaymentsSQL,
		"models/marts/orders.sql":         ordersSQL,
		"models/marts/customers.sql":      customersSQL,
		"macros/cents_to_dollars.sql":     "{% macro cents_to_dollars(column) %}{{ money_helper(column) }} / 100{% endmacro %}\n",
		"macros/money_helper.sql":         "{% macro money_helper(column) %}round({{ column }}){% endmacro %}\n",
	}
}

func jaffleManifest() *dbt.Manifest {
	return &dbt.Manifest{
		Metadata: dbt.ManifestMetadata{ProjectName: "jaffle_shop", ProjectID: "t3stpr0j"},
		Nodes: map[string]*dbt.Node{
			stgOrdersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         stgOrdersID,
					Name:             "stg_orders",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "jaffle_shop",
					Path:             "staging/stg_orders.sql",
					OriginalFilePath: "models/staging/stg_orders.sql",
				},
				PatchPath: "jaffle_shop://models/staging/_staging.yml",
				RawCode:   stgOrdersSQL,
				Language:  "sql",
				DependsOn: dbt.DependsOn{Nodes: []string{rawOrdersID}},
			},
			stgPaymentsID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         stgPaymentsID,
					Name:             "stg_payments",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "jaffle_shop",
					Path:             "staging/stg_payments.sql",
					OriginalFilePath: "models/staging/stg_payments.sql",
				},
				PatchPath: "jaffle_shop://models/staging/_staging.yml",
				RawCode:   stgPaymentsSQL,
				Language:  "sql",
				DependsOn: dbt.DependsOn{Nodes: []string{rawPaymentsID}},
			},
			ordersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         ordersID,
					Name:             "orders",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "jaffle_shop",
					Path:             "marts/orders.sql",
					OriginalFilePath: "models/marts/orders.sql",
				},
				PatchPath: "jaffle_shop://models/marts/_marts.yml",
				RawCode:   ordersSQL,
				Language:  "sql",
				Group:     "finance",
				Columns:   map[string]dbt.ColumnInfo{"Order_ID": {Name: "Order_ID"}},
				DependsOn: dbt.DependsOn{
					Nodes:  []string{stgOrdersID},
					Macros: []string{"macro.jaffle_shop.cents_to_dollars"},
				},
			},
			customersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         customersID,
					Name:             "customers",
					ResourceType:     dbt.ResourceTypeModel,
					PackageName:      "jaffle_shop",
					Path:             "marts/customers.sql",
					OriginalFilePath: "models/marts/customers.sql",
				},
				PatchPath: "jaffle_shop://models/marts/_marts.yml",
				RawCode:   customersSQL,
				Language:  "sql",
				DependsOn: dbt.DependsOn{Nodes: []string{ordersID, stgPaymentsID}},
			},
			orderTestID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         orderTestID,
					Name:             "unique_orders_order_id",
					ResourceType:     dbt.ResourceTypeTest,
					PackageName:      "jaffle_shop",
					Path:             "unique_orders_order_id.sql",
					OriginalFilePath: "models/marts/_marts.yml",
				},
				DependsOn: dbt.DependsOn{Nodes: []string{ordersID}},
			},
		},
		Sources: map[string]*dbt.Source{
			rawOrdersID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         rawOrdersID,
					Name:             "orders",
					ResourceType:     dbt.ResourceTypeSource,
					PackageName:      "jaffle_shop",
					Path:             "models/staging/_sources.yml",
					OriginalFilePath: "models/staging/_sources.yml",
				},
				SourceName: "raw",
			},
			rawPaymentsID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         rawPaymentsID,
					Name:             "payments",
					ResourceType:     dbt.ResourceTypeSource,
					PackageName:      "jaffle_shop",
					Path:             "models/staging/_sources.yml",
					OriginalFilePath: "models/staging/_sources.yml",
				},
				SourceName: "raw",
			},
		},
		Macros: map[string]*dbt.Macro{
			"macro.jaffle_shop.cents_to_dollars": {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         "macro.jaffle_shop.cents_to_dollars",
					Name:             "cents_to_dollars",
					ResourceType:     dbt.ResourceTypeMacro,
					PackageName:      "jaffle_shop",
					OriginalFilePath: "macros/cents_to_dollars.sql",
				},
				DependsOn: dbt.MacroDependsOn{
					Macros: []string{"macro.jaffle_shop.money_helper", "macro.dbt.run_query"},
				},
			},
			"macro.jaffle_shop.money_helper": {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         "macro.jaffle_shop.money_helper",
					Name:             "money_helper",
					ResourceType:     dbt.ResourceTypeMacro,
					PackageName:      "jaffle_shop",
					OriginalFilePath: "macros/money_helper.sql",
				},
			},
			"macro.dbt.run_query": {
				ResourceBase: dbt.ResourceBase{
					UniqueID:     "macro.dbt.run_query",
					Name:         "run_query",
					ResourceType: dbt.ResourceTypeMacro,
					PackageName:  "dbt",
				},
			},
		},
		Docs: map[string]*dbt.Doc{
			"doc.jaffle_shop.orders_status": {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         "doc.jaffle_shop.orders_status",
					Name:             "orders_status",
					ResourceType:     dbt.ResourceTypeDoc,
					PackageName:      "jaffle_shop",
					OriginalFilePath: "models/docs.md",
				},
			},
		},
		Groups: map[string]*dbt.Group{
			"group.jaffle_shop.finance": {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         "group.jaffle_shop.finance",
					Name:             "finance",
					ResourceType:     dbt.ResourceTypeGroup,
					PackageName:      "jaffle_shop",
					OriginalFilePath: "models/_groups.yml",
				},
				Owner: dbt.Owner{Name: "Finance Team"},
			},
		},
		ParentMap: map[string][]string{
			stgOrdersID:   {rawOrdersID},
			stgPaymentsID: {rawPaymentsID},
			ordersID:      {stgOrdersID},
			customersID:   {ordersID, stgPaymentsID},
			orderTestID:   {ordersID},
		},
		ChildMap: map[string][]string{
			rawOrdersID:   {stgOrdersID},
			rawPaymentsID: {stgPaymentsID},
			stgOrdersID:   {ordersID},
			stgPaymentsID: {customersID},
			ordersID:      {customersID, orderTestID},
			customersID:   {},
			orderTestID:   {},
		},
	}
}

func jaffleCatalog() *dbt.Catalog {
	return &dbt.Catalog{
		Nodes: map[string]*dbt.CatalogTable{
			ordersID: {
				Metadata: dbt.CatalogMetadata{Type: "VIEW", Schema: "analytics", Name: "orders"},
				Columns: map[string]dbt.CatalogColumn{
					"ORDER_ID": {Type: "INTEGER", Index: 1, Name: "ORDER_ID"},
					"STATUS":   {Type: "character varying", Index: 2, Name: "STATUS"},
				},
			},
		},
	}
}

// writeProjectDir lays a loadable project on disk: its source tree plus the
// serialized artifacts under target/.
func writeProjectDir(t *testing.T, files map[string]string, manifest *dbt.Manifest, catalog *dbt.Catalog) string {
	t.Helper()
	dir := t.TempDir()

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "target"), 0o755))
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "target", "manifest.json"), data, 0o644))

	if catalog != nil {
		data, err := json.Marshal(catalog)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "target", "catalog.json"), data, 0o644))
	}
	return dir
}

func loadTestProject(t *testing.T, files map[string]string, manifest *dbt.Manifest, catalog *dbt.Catalog) *project.Project {
	t.Helper()
	dir := writeProjectDir(t, files, manifest, catalog)
	p, err := project.Load(context.Background(), dir, project.LoadOptions{NoInvokeDbt: true})
	require.NoError(t, err)
	return p
}

func jaffleProject(t *testing.T) *project.Project {
	t.Helper()
	return loadTestProject(t, jaffleFiles(), jaffleManifest(), jaffleCatalog())
}

// findResource returns the planned resource change matching the given shape,
// failing the test when none matches.
func findResource(t *testing.T, cs *change.ChangeSet, op change.Operation, entity change.EntityType, identifier, path string) *change.ResourceChange {
	t.Helper()
	for _, c := range cs.Changes {
		rc, ok := c.(*change.ResourceChange)
		if !ok {
			continue
		}
		if rc.Operation == op && rc.EntityType == entity && rc.Identifier == identifier && rc.Path == path {
			return rc
		}
	}
	t.Fatalf("no %s %s change for %q at %s", op, entity, identifier, path)
	return nil
}

// findFile returns the planned file change matching the given shape, failing
// the test when none matches.
func findFile(t *testing.T, cs *change.ChangeSet, op change.Operation, identifier, path string) *change.FileChange {
	t.Helper()
	for _, c := range cs.Changes {
		fc, ok := c.(*change.FileChange)
		if !ok {
			continue
		}
		if fc.Operation == op && fc.Identifier == identifier && fc.Path == path {
			return fc
		}
	}
	t.Fatalf("no %s file change for %q at %s", op, identifier, path)
	return nil
}

// changeIndex returns the position of a change in the set, or -1.
func changeIndex(cs *change.ChangeSet, target change.Change) int {
	for i, c := range cs.Changes {
		if c == target {
			return i
		}
	}
	return -1
}
