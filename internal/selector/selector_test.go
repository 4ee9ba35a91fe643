package selector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/meshify/internal/dag"
	"github.com/leapstack-labs/meshify/internal/dbt"
)

const (
	stgOrdersID = "model.jaffle_shop.stg_orders"
	ordersID    = "model.jaffle_shop.orders"
	customersID = "model.jaffle_shop.customers"
	orderTestID = "test.jaffle_shop.unique_orders_order_id.4a1b2c"
	rawOrdersID = "source.jaffle_shop.raw.orders"
	dashboardID = "exposure.jaffle_shop.order_dashboard"
)

func testManifest() *dbt.Manifest {
	return &dbt.Manifest{
		Metadata: dbt.ManifestMetadata{ProjectName: "jaffle_shop"},
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
				FQN:       []string{"jaffle_shop", "staging", "stg_orders"},
				Tags:      []string{"staging"},
				Config:    dbt.NodeConfig{Materialized: "view"},
				DependsOn: dbt.DependsOn{Nodes: []string{rawOrdersID}},
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
				FQN:       []string{"jaffle_shop", "marts", "orders"},
				Tags:      []string{"mart"},
				Config:    dbt.NodeConfig{Materialized: "table"},
				Access:    "public",
				Group:     "finance",
				DependsOn: dbt.DependsOn{Nodes: []string{stgOrdersID}},
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
				FQN:       []string{"jaffle_shop", "marts", "customers"},
				Tags:      []string{"mart"},
				Config:    dbt.NodeConfig{Materialized: "view"},
				DependsOn: dbt.DependsOn{Nodes: []string{stgOrdersID}},
			},
			orderTestID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         orderTestID,
					Name:             "unique_orders_order_id",
					ResourceType:     dbt.ResourceTypeTest,
					PackageName:      "jaffle_shop",
					Path:             "unique_orders_order_id.sql",
					OriginalFilePath: "models/marts/_models.yml",
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
				FQN:        []string{"jaffle_shop", "staging", "raw", "orders"},
				Tags:       []string{"raw"},
			},
		},
		Exposures: map[string]*dbt.Exposure{
			dashboardID: {
				ResourceBase: dbt.ResourceBase{
					UniqueID:         dashboardID,
					Name:             "order_dashboard",
					ResourceType:     dbt.ResourceTypeExposure,
					PackageName:      "jaffle_shop",
					OriginalFilePath: "models/exposures.yml",
				},
				FQN:       []string{"jaffle_shop", "order_dashboard"},
				DependsOn: dbt.DependsOn{Nodes: []string{ordersID}},
			},
		},
		ChildMap: map[string][]string{
			rawOrdersID: {stgOrdersID},
			stgOrdersID: {ordersID, customersID},
			ordersID:    {orderTestID, dashboardID},
			customersID: {},
			orderTestID: {},
			dashboardID: {},
		},
	}
}

func testSelector() *Selector {
	m := testManifest()
	return New(m, dag.FromChildMap(m.ChildMap))
}

func TestSelect_ByName(t *testing.T) {
	ids, err := testSelector().Select("orders", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_Glob(t *testing.T) {
	ids, err := testSelector().Select("stg_*", "")
	require.NoError(t, err)
	assert.Equal(t, []string{stgOrdersID}, ids)
}

func TestSelect_EmptySelectsEverything(t *testing.T) {
	ids, err := testSelector().Select("", "")
	require.NoError(t, err)
	assert.Len(t, ids, 6)
}

func TestSelect_TagMethod(t *testing.T) {
	ids, err := testSelector().Select("tag:mart", "")
	require.NoError(t, err)
	assert.Equal(t, []string{customersID, ordersID, orderTestID}, ids)
}

func TestSelect_PathMethod(t *testing.T) {
	ids, err := testSelector().Select("path:models/staging", "")
	require.NoError(t, err)
	assert.Equal(t, []string{stgOrdersID, rawOrdersID}, ids)

	ids, err = testSelector().Select("path:models/marts/orders.sql", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_GroupMethod(t *testing.T) {
	ids, err := testSelector().Select("group:finance", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_AccessMethod(t *testing.T) {
	ids, err := testSelector().Select("access:public", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_PackageMethod(t *testing.T) {
	ids, err := testSelector().Select("package:jaffle_shop", "")
	require.NoError(t, err)
	assert.Len(t, ids, 6)

	ids, err = testSelector().Select("package:other", "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSelect_SourceMethod(t *testing.T) {
	ids, err := testSelector().Select("source:raw", "")
	require.NoError(t, err)
	assert.Equal(t, []string{rawOrdersID}, ids)

	ids, err = testSelector().Select("source:raw.orders", "")
	require.NoError(t, err)
	assert.Equal(t, []string{rawOrdersID}, ids)

	ids, err = testSelector().Select("source:warehouse", "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSelect_ResourceTypeMethod(t *testing.T) {
	ids, err := testSelector().Select("resource_type:exposure", "")
	require.NoError(t, err)
	assert.Equal(t, []string{dashboardID}, ids)
}

func TestSelect_FQNMethod(t *testing.T) {
	ids, err := testSelector().Select("fqn:jaffle_shop.staging.stg_orders", "")
	require.NoError(t, err)
	assert.Equal(t, []string{stgOrdersID}, ids)

	ids, err = testSelector().Select("fqn:*.staging.*", "")
	require.NoError(t, err)
	assert.Equal(t, []string{stgOrdersID, rawOrdersID}, ids)
}

func TestSelect_ConfigMaterialized(t *testing.T) {
	ids, err := testSelector().Select("config.materialized:table", "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_GraphOperators(t *testing.T) {
	t.Run("ancestors", func(t *testing.T) {
		ids, err := testSelector().Select("+orders", "")
		require.NoError(t, err)
		assert.Equal(t, []string{ordersID, stgOrdersID, rawOrdersID, orderTestID}, ids)
	})

	t.Run("descendants", func(t *testing.T) {
		ids, err := testSelector().Select("orders+", "")
		require.NoError(t, err)
		assert.Equal(t, []string{dashboardID, ordersID, orderTestID}, ids)
	})

	t.Run("ancestors with depth", func(t *testing.T) {
		ids, err := testSelector().Select("1+orders", "")
		require.NoError(t, err)
		assert.Equal(t, []string{ordersID, stgOrdersID, orderTestID}, ids)
	})

	t.Run("descendants with depth", func(t *testing.T) {
		ids, err := testSelector().Select("stg_orders+1", "")
		require.NoError(t, err)
		assert.Equal(t, []string{customersID, ordersID, stgOrdersID, orderTestID}, ids)
	})

	t.Run("childrens parents", func(t *testing.T) {
		ids, err := testSelector().Select("@stg_orders", "")
		require.NoError(t, err)
		assert.Len(t, ids, 6)
	})
}

func TestSelect_UnionAndIntersection(t *testing.T) {
	ids, err := testSelector().Select("stg_orders customers", "")
	require.NoError(t, err)
	assert.Equal(t, []string{customersID, stgOrdersID}, ids)

	ids, err = testSelector().Select("tag:mart,config.materialized:view", "")
	require.NoError(t, err)
	assert.Equal(t, []string{customersID}, ids)
}

func TestSelect_Exclude(t *testing.T) {
	ids, err := testSelector().Select("tag:mart", "customers")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}

func TestSelect_ExcludedTestStaysOut(t *testing.T) {
	ids, err := testSelector().Select("orders", "resource_type:test")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID}, ids)
}

func TestSelect_TestRequiresAllParents(t *testing.T) {
	// The test node depends only on orders, so selecting customers alone
	// must not drag it in.
	ids, err := testSelector().Select("customers", "")
	require.NoError(t, err)
	assert.Equal(t, []string{customersID}, ids)
}

func TestSelect_UnknownMethod(t *testing.T) {
	_, err := testSelector().Select("owner:bob", "")
	require.ErrorContains(t, err, `unsupported selection method "owner"`)

	_, err = testSelector().Select("config.alias:x", "")
	require.ErrorContains(t, err, `unsupported config selection key "alias"`)
}

func TestSelect_InvalidCriterion(t *testing.T) {
	_, err := testSelector().Select("+", "")
	require.ErrorContains(t, err, "invalid selection criterion")

	_, err = testSelector().Select("orders,,customers", "")
	require.ErrorContains(t, err, "empty selection criterion")

	_, err = testSelector().Select("@+orders", "")
	require.ErrorContains(t, err, "cannot combine @ with +")
}

func writeSelectorsFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, SelectorsFileName), []byte(contents), 0o644)
	require.NoError(t, err)
	return dir
}

func TestNamedSelection(t *testing.T) {
	dir := writeSelectorsFile(t, `
selectors:
  - name: plain
    definition: "tag:mart"
  - name: staging_or_marts
    definition:
      union:
        - method: tag
          value: staging
        - method: path
          value: models/marts
  - name: mart_tables
    definition:
      intersection:
        - method: tag
          value: mart
        - method: config.materialized
          value: table
  - name: orders_children
    definition:
      method: fqn
      value: orders
      children: true
      children_depth: 1
  - name: at_orders
    definition:
      method: fqn
      value: orders
      childrens_parents: true
`)

	expr, err := NamedSelection(dir, "plain")
	require.NoError(t, err)
	assert.Equal(t, "tag:mart", expr)

	expr, err = NamedSelection(dir, "staging_or_marts")
	require.NoError(t, err)
	assert.Equal(t, "tag:staging path:models/marts", expr)

	expr, err = NamedSelection(dir, "mart_tables")
	require.NoError(t, err)
	assert.Equal(t, "tag:mart,config.materialized:table", expr)

	expr, err = NamedSelection(dir, "orders_children")
	require.NoError(t, err)
	assert.Equal(t, "fqn:orders+1", expr)

	expr, err = NamedSelection(dir, "at_orders")
	require.NoError(t, err)
	assert.Equal(t, "@fqn:orders", expr)

	_, err = NamedSelection(dir, "missing")
	require.ErrorContains(t, err, `selector "missing" not found`)
}

func TestNamedSelection_UnionInsideIntersection(t *testing.T) {
	dir := writeSelectorsFile(t, `
selectors:
  - name: nested
    definition:
      intersection:
        - union:
            - method: tag
              value: mart
            - method: tag
              value: staging
        - method: config.materialized
          value: table
`)
	_, err := NamedSelection(dir, "nested")
	require.ErrorContains(t, err, "cannot nest a union inside an intersection")
}

func TestNamedSelection_EndToEnd(t *testing.T) {
	dir := writeSelectorsFile(t, `
selectors:
  - name: mart_tables
    definition:
      intersection:
        - method: tag
          value: mart
        - method: config.materialized
          value: table
`)
	expr, err := NamedSelection(dir, "mart_tables")
	require.NoError(t, err)

	ids, err := testSelector().Select(expr, "")
	require.NoError(t, err)
	assert.Equal(t, []string{ordersID, orderTestID}, ids)
}
