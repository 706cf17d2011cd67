package orm

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type Task struct {
	ID         int64  `db:"id"`
	VendorID   string `db:"vendor_id"`
	VendorName string `db:"vendor_name"`

	ImportSummary *TaskImportSummary `db:"-" orm:"has_one,foreign_keys:task_vendor_id|task_vendor_name,local_keys:vendor_id|vendor_name"`
	ImportData    []TaskImportData   `db:"-" orm:"has_many,foreign_keys:task_vendor_id|task_vendor_name,local_keys:vendor_id|vendor_name"`
}

type TaskImportSummary struct {
	ID             int64   `db:"id"`
	TaskVendorID   *string `db:"task_vendor_id"`
	TaskVendorName *string `db:"task_vendor_name"`
	Status         string  `db:"status"`

	Task       *Task            `db:"-" orm:"belongs_to,foreign_keys:task_vendor_id|task_vendor_name,owner_keys:vendor_id|vendor_name"`
	ImportData []TaskImportData `db:"-" relation:"import_data"`
}

type TaskImportData struct {
	ID             int64      `db:"id"`
	TaskVendorID   *string    `db:"task_vendor_id"`
	TaskVendorName *string    `db:"task_vendor_name"`
	Payload        string     `db:"payload"`
	DeletedAt      *time.Time `db:"deleted_at"`

	Task *Task `db:"-"`
}

// Employee points at its manager through a composite key on the same table
type Employee struct {
	CompanyID        int64   `db:"company_id"`
	Badge            string  `db:"badge"`
	ManagerCompanyID *int64  `db:"manager_company_id"`
	ManagerBadge     *string `db:"manager_badge"`

	Manager *Employee `db:"-"`
}

func taskMetadata() *ModelMetadata {
	return &ModelMetadata{TableName: "tasks", PrimaryKeys: []string{"id"}, AutoIncrement: true}
}

func summaryMetadata() *ModelMetadata {
	return &ModelMetadata{TableName: "task_import_summaries", PrimaryKeys: []string{"id"}, AutoIncrement: true}
}

func dataMetadata() *ModelMetadata {
	return &ModelMetadata{TableName: "task_import_data", PrimaryKeys: []string{"id"}, AutoIncrement: true, SoftDeleteColumn: "deleted_at"}
}

func employeeMetadata() *ModelMetadata {
	return &ModelMetadata{TableName: "employees", PrimaryKeys: []string{"company_id", "badge"}}
}

func strPtr(s string) *string {
	return &s
}

type taskFixture struct {
	mock      sqlmock.Sqlmock
	tasks     *Repository[Task]
	summaries *Repository[TaskImportSummary]
	data      *Repository[TaskImportData]

	summary     *HasOne[Task, TaskImportSummary]
	importData  *HasMany[Task, TaskImportData]
	summaryTask *BelongsTo[TaskImportSummary, Task]
	dataTask    *BelongsTo[TaskImportData, Task]
	summaryData *HasMany[TaskImportSummary, TaskImportData]
}

// newTaskFixture wires the task repositories and relations on a sqlmock
// connection that speaks the postgres placeholder style
func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	f := &taskFixture{mock: mock}

	f.tasks, err = NewRepository[Task](sqlxDB, taskMetadata())
	require.NoError(t, err)
	f.summaries, err = NewRepository[TaskImportSummary](sqlxDB, summaryMetadata())
	require.NoError(t, err)
	f.data, err = NewRepository[TaskImportData](sqlxDB, dataMetadata())
	require.NoError(t, err)

	f.summary, err = CompositeHasOne(f.tasks, f.summaries, "import_summary")
	require.NoError(t, err)
	f.importData, err = CompositeHasMany(f.tasks, f.data, "import_data")
	require.NoError(t, err)
	f.summaryTask, err = CompositeBelongsTo(f.summaries, f.tasks, "task")
	require.NoError(t, err)
	f.dataTask, err = CompositeBelongsTo(f.data, f.tasks, "task",
		WithForeignKeys("task_vendor_id", "task_vendor_name"),
		WithOwnerKeys("vendor_id", "vendor_name"),
		WithGlue("and"),
	)
	require.NoError(t, err)
	f.summaryData, err = CompositeHasMany(f.summaries, f.data, "import_data",
		WithForeignKeys("task_vendor_id", "task_vendor_name"),
		WithLocalKeys("task_vendor_id", "task_vendor_name"),
	)
	require.NoError(t, err)

	return f
}
