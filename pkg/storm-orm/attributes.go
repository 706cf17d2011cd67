package orm

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/spf13/cast"
)

// Attributes is a column -> value map used to fill and query models
type Attributes map[string]interface{}

// merge returns a copy of a with the keys of b added when absent
func (a Attributes) merge(b Attributes) Attributes {
	merged := make(Attributes, len(a)+len(b))
	for k, v := range b {
		merged[k] = v
	}
	for k, v := range a {
		merged[k] = v
	}
	return merged
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// modelFields indexes the columns and relation fields of a model type
type modelFields struct {
	structMap    *reflectx.StructMap
	columns      []string
	relations    map[string][]int
	relationTags map[string]relationTag
}

func newModelFields(mapper *reflectx.Mapper, t reflect.Type) (*modelFields, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", t.Kind())
	}

	tags, relations, err := parseRelationTags(t)
	if err != nil {
		return nil, err
	}

	mf := &modelFields{
		structMap:    mapper.TypeMap(t),
		relations:    relations,
		relationTags: tags,
	}

	for _, fi := range mf.structMap.Index {
		if fi.Embedded || strings.Contains(fi.Path, ".") {
			continue
		}
		if tag := fi.Field.Tag.Get("db"); tag == "" {
			continue
		}
		mf.columns = append(mf.columns, fi.Path)
	}

	return mf, nil
}

func (mf *modelFields) field(column string) (*reflectx.FieldInfo, bool) {
	fi, ok := mf.structMap.Names[unqualify(column)]
	return fi, ok
}

// relationIndex resolves the struct field holding a relation. A tagged field
// wins, otherwise the CamelCase form of the name is used.
func (mf *modelFields) relationIndex(t reflect.Type, name string) ([]int, bool) {
	if idx, ok := mf.relations[name]; ok {
		return idx, true
	}
	f, ok := t.FieldByName(strcase.ToCamel(name))
	if !ok || !f.IsExported() {
		return nil, false
	}
	return f.Index, true
}

// GetAttribute reads a column value from a record
func (r *Repository[T]) GetAttribute(record *T, column string) (interface{}, error) {
	if record == nil {
		return nil, nil
	}
	fi, ok := r.fields.field(column)
	if !ok {
		return nil, &Error{Op: "get_attribute", Table: r.metadata.TableName, Column: column, Err: ErrUnknownColumn}
	}
	v := reflectx.FieldByIndexesReadOnly(reflect.ValueOf(record).Elem(), fi.Index)
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// GetAttributes reads several columns in order
func (r *Repository[T]) GetAttributes(record *T, columns []string) ([]interface{}, error) {
	values := make([]interface{}, len(columns))
	for i, column := range columns {
		v, err := r.GetAttribute(record, column)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// SetAttribute writes a column value into a record, coercing it to the field type
func (r *Repository[T]) SetAttribute(record *T, column string, value interface{}) error {
	fi, ok := r.fields.field(column)
	if !ok {
		return &Error{Op: "set_attribute", Table: r.metadata.TableName, Column: column, Err: ErrUnknownColumn}
	}

	v := reflect.ValueOf(record).Elem()
	if len(fi.Index) > 1 {
		v = reflectx.FieldByIndexes(v, fi.Index[:len(fi.Index)-1])
	}
	field := reflect.Indirect(v).Field(fi.Index[len(fi.Index)-1])

	if err := assignValue(field, value); err != nil {
		return &Error{Op: "set_attribute", Table: r.metadata.TableName, Column: column, Err: err}
	}
	return nil
}

// Fill assigns every attribute to the record
func (r *Repository[T]) Fill(record *T, attributes Attributes) error {
	for column, value := range attributes {
		if err := r.SetAttribute(record, column, value); err != nil {
			return err
		}
	}
	return nil
}

// New builds a record from attributes without touching the database
func (r *Repository[T]) New(attributes Attributes) (*T, error) {
	record := new(T)
	if err := r.Fill(record, attributes); err != nil {
		return nil, err
	}
	return record, nil
}

// Keys returns the primary key values of a record
func (r *Repository[T]) Keys(record *T) ([]interface{}, error) {
	return r.GetAttributes(record, r.metadata.PrimaryKeys)
}

func (r *Repository[T]) setRelation(record *T, name string, value interface{}) error {
	t := reflect.TypeOf(record).Elem()
	idx, ok := r.fields.relationIndex(t, name)
	if !ok {
		return &Error{
			Op:    "set_relation",
			Table: r.metadata.TableName,
			Err:   fmt.Errorf("%w: no field for relation %s on %s", ErrUnknownRelation, name, t.Name()),
		}
	}

	field := reflect.ValueOf(record).Elem().FieldByIndex(idx)
	if err := assignRelation(field, value); err != nil {
		return &Error{
			Op:    "set_relation",
			Table: r.metadata.TableName,
			Err:   fmt.Errorf("relation %s: %w", name, err),
		}
	}
	return nil
}

func assignRelation(field reflect.Value, value interface{}) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	if rv.Kind() == reflect.Ptr && rv.Elem().Type().AssignableTo(field.Type()) {
		field.Set(rv.Elem())
		return nil
	}

	if rv.Kind() == reflect.Slice && field.Kind() == reflect.Slice {
		elemType := field.Type().Elem()
		out := reflect.MakeSlice(field.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i)
			switch {
			case item.Type().AssignableTo(elemType):
				out.Index(i).Set(item)
			case item.Kind() == reflect.Ptr && item.Elem().Type().AssignableTo(elemType):
				out.Index(i).Set(item.Elem())
			default:
				return fmt.Errorf("cannot assign %s to %s", item.Type(), elemType)
			}
		}
		field.Set(out)
		return nil
	}

	return fmt.Errorf("cannot assign %s to %s", rv.Type(), field.Type())
}

func assignValue(field reflect.Value, value interface{}) error {
	value = normalizeValue(value)
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	if field.CanAddr() && field.Addr().Type().Implements(scannerType) {
		return field.Addr().Interface().(sql.Scanner).Scan(value)
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := assignValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(value)
		if err != nil {
			return err
		}
		field.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(value)
		if err != nil {
			return err
		}
		field.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return err
		}
		field.SetFloat(f)
		return nil
	case reflect.String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return err
		}
		field.SetString(s)
		return nil
	case reflect.Bool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
		return nil
	}

	if field.Type() == timeType {
		ts, err := cast.ToTimeE(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(ts))
		return nil
	}

	if rv.Type().ConvertibleTo(field.Type()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// normalizeValue reduces a field value to what the driver would see:
// pointers are dereferenced, valuers unwrapped and byte slices become strings.
func normalizeValue(value interface{}) interface{} {
	if value == nil {
		return nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		if !rv.Type().Implements(valuerType) {
			return normalizeValue(rv.Elem().Interface())
		}
	}

	if valuer, ok := value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return value
		}
		return normalizeValue(v)
	}

	if b, ok := value.([]byte); ok {
		return string(b)
	}

	return value
}

// isBlank mirrors a falsy check: nil, zero numbers, empty strings and false
func isBlank(value interface{}) bool {
	value = normalizeValue(value)
	if value == nil {
		return true
	}
	return reflect.ValueOf(value).IsZero()
}
