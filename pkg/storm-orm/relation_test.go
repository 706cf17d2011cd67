package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGlue(t *testing.T) {
	tests := []struct {
		input   string
		want    Glue
		wantErr bool
	}{
		{input: "and", want: GlueAnd},
		{input: "AND", want: GlueAnd},
		{input: " or ", want: GlueOr},
		{input: "Or", want: GlueOr},
		{input: "xor", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGlue(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidGlue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeKey(t *testing.T) {
	t.Run("normalizes pointers and integer widths", func(t *testing.T) {
		a, err := encodeKey([]interface{}{1, "acme"})
		require.NoError(t, err)
		b, err := encodeKey([]interface{}{int64(1), strPtr("acme")})
		require.NoError(t, err)

		assert.Equal(t, `[1,"acme"]`, a)
		assert.Equal(t, a, b)
	})

	t.Run("nil pointers encode as null", func(t *testing.T) {
		var missing *string
		key, err := encodeKey([]interface{}{missing, "acme"})
		require.NoError(t, err)
		assert.Equal(t, `[null,"acme"]`, key)
	})

	t.Run("order matters", func(t *testing.T) {
		a, err := encodeKey([]interface{}{"a", "b"})
		require.NoError(t, err)
		b, err := encodeKey([]interface{}{"b", "a"})
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestEagerConstraint(t *testing.T) {
	columns := []string{"t.vendor_id", "t.vendor_name"}

	t.Run("or glue deduplicates tuples", func(t *testing.T) {
		pred, err := eagerConstraint(columns, [][]interface{}{
			{1, "acme"},
			{2, "globex"},
			{int64(1), strPtr("acme")},
		}, GlueOr)
		require.NoError(t, err)

		sql, args, err := pred.ToSql()
		require.NoError(t, err)
		assert.Equal(t, "((t.vendor_id = ? OR t.vendor_name = ?) OR (t.vendor_id = ? OR t.vendor_name = ?))", sql)
		assert.Equal(t, []interface{}{1, "acme", 2, "globex"}, args)
	})

	t.Run("and glue", func(t *testing.T) {
		pred, err := eagerConstraint(columns, [][]interface{}{{1, "acme"}}, GlueAnd)
		require.NoError(t, err)

		sql, args, err := pred.ToSql()
		require.NoError(t, err)
		assert.Equal(t, "((t.vendor_id = ? AND t.vendor_name = ?))", sql)
		assert.Equal(t, []interface{}{1, "acme"}, args)
	})

	t.Run("null values compare with IS NULL", func(t *testing.T) {
		var missing *string
		pred, err := eagerConstraint(columns, [][]interface{}{{1, missing}}, GlueAnd)
		require.NoError(t, err)

		sql, args, err := pred.ToSql()
		require.NoError(t, err)
		assert.Equal(t, "((t.vendor_id = ? AND t.vendor_name IS NULL))", sql)
		assert.Equal(t, []interface{}{1}, args)
	})

	t.Run("no tuples matches nothing", func(t *testing.T) {
		pred, err := eagerConstraint(columns, nil, GlueOr)
		require.NoError(t, err)

		sql, args, err := pred.ToSql()
		require.NoError(t, err)
		assert.Equal(t, "(1=0)", sql)
		assert.Empty(t, args)
	})
}

func TestColumnsEqual(t *testing.T) {
	got := columnsEqual([]string{"a.x", "a.y"}, []string{"b.x", "b.y"})
	assert.Equal(t, "(a.x = b.x AND a.y = b.y)", got)
}

func TestRelationCountHash(t *testing.T) {
	current := RelationCountHash(false)
	assert.Regexp(t, `^storm_reserved_\d+$`, current)

	assert.Equal(t, current, RelationCountHash(true), "increment returns the alias it reserves")
	assert.NotEqual(t, current, RelationCountHash(false))
}

func TestKeyColumns(t *testing.T) {
	keys := KeyColumns{Table: "tasks", Columns: []string{"vendor_id", "vendor_name"}}

	t.Run("Eq", func(t *testing.T) {
		sql, args, err := keys.Eq(1, "acme").ToSql()
		require.NoError(t, err)
		assert.Equal(t, "(tasks.vendor_id = ? AND tasks.vendor_name = ?)", sql)
		assert.Equal(t, []interface{}{1, "acme"}, args)
	})

	t.Run("Eq with the wrong arity matches nothing", func(t *testing.T) {
		sql, _, err := keys.Eq(1).ToSql()
		require.NoError(t, err)
		assert.Equal(t, "1=0", sql)
	})

	t.Run("AnyOf", func(t *testing.T) {
		cond, err := keys.AnyOf(GlueAnd, []interface{}{1, "acme"}, []interface{}{2, "globex"})
		require.NoError(t, err)

		sql, args, err := cond.ToSql()
		require.NoError(t, err)
		assert.Equal(t, "((tasks.vendor_id = ? AND tasks.vendor_name = ?) OR (tasks.vendor_id = ? AND tasks.vendor_name = ?))", sql)
		assert.Equal(t, []interface{}{1, "acme", 2, "globex"}, args)
	})

	t.Run("AnyOf rejects short tuples", func(t *testing.T) {
		_, err := keys.AnyOf(GlueOr, []interface{}{1})
		assert.ErrorIs(t, err, ErrKeyCountMismatch)
	})

	t.Run("ordering", func(t *testing.T) {
		assert.Equal(t, []string{"tasks.vendor_id ASC", "tasks.vendor_name ASC"}, keys.Asc())
		assert.Equal(t, KeyColumns{Table: "employees", Columns: []string{"company_id", "badge"}}, Keys(employeeMetadata()))
	})
}
