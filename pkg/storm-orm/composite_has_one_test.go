package orm

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	taskColumns    = "tasks.id, tasks.vendor_id, tasks.vendor_name"
	summaryColumns = "task_import_summaries.id, task_import_summaries.task_vendor_id, task_import_summaries.task_vendor_name, task_import_summaries.status"
	dataColumns    = "task_import_data.id, task_import_data.task_vendor_id, task_import_data.task_vendor_name, task_import_data.payload, task_import_data.deleted_at"
)

var (
	summaryRowColumns = []string{"id", "task_vendor_id", "task_vendor_name", "status"}
	taskRowColumns    = []string{"id", "vendor_id", "vendor_name"}
	dataRowColumns    = []string{"id", "task_vendor_id", "task_vendor_name", "payload", "deleted_at"}
)

const summaryForTaskQuery = "SELECT " + summaryColumns + " FROM task_import_summaries WHERE " +
	"(task_import_summaries.task_vendor_id = $1 AND task_import_summaries.task_vendor_id IS NOT NULL AND " +
	"task_import_summaries.task_vendor_name = $2 AND task_import_summaries.task_vendor_name IS NOT NULL) LIMIT 1"

func TestHasOneGetResults(t *testing.T) {
	ctx := context.Background()
	task := &Task{ID: 1, VendorID: "v1", VendorName: "acme"}

	t.Run("loads the related record", func(t *testing.T) {
		f := newTaskFixture(t)
		f.mock.ExpectQuery(regexp.QuoteMeta(summaryForTaskQuery)).
			WithArgs("v1", "acme").
			WillReturnRows(sqlmock.NewRows(summaryRowColumns).AddRow(10, "v1", "acme", "done"))

		summary, err := f.summary.For(task).GetResults(ctx)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, int64(10), summary.ID)
		assert.Equal(t, "done", summary.Status)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("missing record without default", func(t *testing.T) {
		f := newTaskFixture(t)
		f.mock.ExpectQuery(regexp.QuoteMeta(summaryForTaskQuery)).
			WithArgs("v1", "acme").
			WillReturnRows(sqlmock.NewRows(summaryRowColumns))

		summary, err := f.summary.For(task).GetResults(ctx)
		require.NoError(t, err)
		assert.Nil(t, summary)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("missing record with default keyed to the parent", func(t *testing.T) {
		f := newTaskFixture(t)
		f.mock.ExpectQuery(regexp.QuoteMeta(summaryForTaskQuery)).
			WithArgs("v1", "acme").
			WillReturnRows(sqlmock.NewRows(summaryRowColumns))

		summary, err := f.summary.WithDefaultAttributes(Attributes{"status": "pending"}).For(task).GetResults(ctx)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, int64(0), summary.ID)
		assert.Equal(t, "pending", summary.Status)
		require.NotNil(t, summary.TaskVendorID)
		assert.Equal(t, "v1", *summary.TaskVendorID)
		assert.Equal(t, "acme", *summary.TaskVendorName)
	})

	t.Run("default callback sees the parent", func(t *testing.T) {
		f := newTaskFixture(t)
		f.mock.ExpectQuery(regexp.QuoteMeta(summaryForTaskQuery)).
			WithArgs("v1", "acme").
			WillReturnRows(sqlmock.NewRows(summaryRowColumns))

		rel := f.summary.WithDefaultFunc(func(summary *TaskImportSummary, parent *Task) error {
			summary.Status = "missing for " + parent.VendorName
			return nil
		})

		summary, err := rel.For(task).GetResults(ctx)
		require.NoError(t, err)
		assert.Equal(t, "missing for acme", summary.Status)
	})

	t.Run("null local key skips the query", func(t *testing.T) {
		f := newTaskFixture(t)
		rel, err := CompositeHasOne(f.summaries, f.data, "first_data",
			WithForeignKeys("task_vendor_id", "task_vendor_name"),
			WithLocalKeys("task_vendor_id", "task_vendor_name"),
		)
		require.NoError(t, err)

		parent := &TaskImportSummary{ID: 3, TaskVendorID: strPtr("v1")}
		data, err := rel.WithDefault().For(parent).GetResults(ctx)
		require.NoError(t, err)
		require.NotNil(t, data)
		assert.Equal(t, "v1", *data.TaskVendorID)
		assert.Nil(t, data.TaskVendorName)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unbound relation", func(t *testing.T) {
		f := newTaskFixture(t)
		_, err := f.summary.GetResults(ctx)
		assert.ErrorIs(t, err, ErrMissingParent)
	})
}

func TestHasOneMatch(t *testing.T) {
	f := newTaskFixture(t)

	tasks := []*Task{
		{ID: 1, VendorID: "v1", VendorName: "acme"},
		{ID: 2, VendorID: "v2", VendorName: "globex"},
	}
	results := []*TaskImportSummary{
		{ID: 10, TaskVendorID: strPtr("v1"), TaskVendorName: strPtr("acme")},
		{ID: 11, TaskVendorID: strPtr("v1"), TaskVendorName: strPtr("acme")},
		{ID: 12, TaskVendorID: strPtr("v1"), TaskVendorName: strPtr("globex")},
	}

	require.NoError(t, f.summary.InitRelation(tasks, "import_summary"))
	assert.Nil(t, tasks[0].ImportSummary)

	require.NoError(t, f.summary.Match(tasks, results, "import_summary"))
	require.NotNil(t, tasks[0].ImportSummary)
	assert.Equal(t, int64(10), tasks[0].ImportSummary.ID, "first matching result wins")
	assert.Nil(t, tasks[1].ImportSummary, "keys must match on every column")
}

func TestHasOneInitRelationWithDefault(t *testing.T) {
	f := newTaskFixture(t)
	f.summary.WithDefault()

	tasks := []*Task{{ID: 1, VendorID: "v1", VendorName: "acme"}}
	require.NoError(t, f.summary.InitRelation(tasks, "import_summary"))
	require.NotNil(t, tasks[0].ImportSummary)
	assert.Equal(t, "acme", *tasks[0].ImportSummary.TaskVendorName)
}

func TestHasOneBoundDefaultLeavesDeclaration(t *testing.T) {
	f := newTaskFixture(t)
	task := &Task{ID: 1, VendorID: "v1", VendorName: "acme"}

	bound := f.summary.For(task).WithDefaultAttributes(Attributes{"status": "pending"})

	tasks := []*Task{{ID: 2, VendorID: "v2", VendorName: "globex"}}
	require.NoError(t, f.summary.InitRelation(tasks, "import_summary"))
	assert.Nil(t, tasks[0].ImportSummary, "declaration keeps its defaults")

	require.NoError(t, bound.InitRelation(tasks, "import_summary"))
	require.NotNil(t, tasks[0].ImportSummary)
	assert.Equal(t, "pending", tasks[0].ImportSummary.Status)
	assert.Same(t, task, bound.Parent())
}

func TestHasOneEagerLoad(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)

	var seen []*MiddlewareContext
	f.summaries.AddMiddleware(func(next QueryMiddlewareFunc) QueryMiddlewareFunc {
		return func(ctx *MiddlewareContext) error {
			seen = append(seen, ctx)
			return next(ctx)
		}
	})

	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT " + taskColumns + " FROM tasks")).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(1, "v1", "acme").
			AddRow(2, "v2", "globex"))
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT " + summaryColumns + " FROM task_import_summaries WHERE " +
		"((task_import_summaries.task_vendor_id = $1 OR task_import_summaries.task_vendor_name = $2) OR " +
		"(task_import_summaries.task_vendor_id = $3 OR task_import_summaries.task_vendor_name = $4))")).
		WithArgs("v1", "acme", "v2", "globex").
		WillReturnRows(sqlmock.NewRows(summaryRowColumns).AddRow(10, "v1", "acme", "done"))

	tasks, err := f.tasks.Query(ctx).Include("import_summary").Find()
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	require.NotNil(t, tasks[0].ImportSummary)
	assert.Equal(t, int64(10), tasks[0].ImportSummary.ID)
	assert.Nil(t, tasks[1].ImportSummary)

	require.Len(t, seen, 1)
	assert.Equal(t, OpEagerLoad, seen[0].Operation)
	assert.Equal(t, "import_summary", seen[0].Relation)
	assert.Equal(t, "task_import_summaries", seen[0].TableName)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHasOneEagerLoadEmptyBatch(t *testing.T) {
	f := newTaskFixture(t)
	require.NoError(t, f.summary.EagerLoad(context.Background(), nil))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
