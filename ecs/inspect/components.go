package inspect

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/plus3/ecscore/ecs"
)

var (
	// ErrNoSuchField is returned by SetField for unknown or unexported fields.
	ErrNoSuchField = eris.New("no such field")
	// ErrUnsupportedField is returned by SetField for fields it cannot parse into.
	ErrUnsupportedField = eris.New("unsupported field kind")
)

// FieldValue is one exported field of a component, formatted for display.
// Nested structs are expanded into Fields.
type FieldValue struct {
	Name   string
	Kind   reflect.Kind
	Value  string
	Fields []FieldValue
}

// ComponentValue is one id of an entity. Tags have no fields.
type ComponentValue struct {
	Id     ecs.Id
	Name   string
	Tag    bool
	Fields []FieldValue
}

// EntityDetail is the full view of a single entity.
type EntityDetail struct {
	ID         ecs.EntityId
	Path       string
	TableID    uint64
	Components []ComponentValue
}

// Inspect describes every id of e stored in its table. It returns nil if e
// is not alive.
func Inspect(w *ecs.World, e ecs.EntityId) *EntityDetail {
	if !w.IsAlive(e) {
		return nil
	}
	detail := &EntityDetail{ID: e, Path: w.Path(e)}
	if t := w.TableOf(e); t != nil {
		detail.TableID = t.Id()
	}

	for _, id := range w.Type(e) {
		cv := ComponentValue{Id: id, Name: w.IdName(id)}
		value := w.GetAny(e, id)
		if value == nil {
			cv.Tag = true
		} else {
			cv.Fields = describeValue(reflect.ValueOf(value).Elem())
		}
		detail.Components = append(detail.Components, cv)
	}
	return detail
}

func describeValue(val reflect.Value) []FieldValue {
	if val.Kind() != reflect.Struct {
		return []FieldValue{describeField("", val)}
	}
	var fields []FieldValue
	for _, field := range fieldsOf(val.Type()) {
		fv := val.Field(field.Index)
		if field.IsPointer {
			if fv.IsNil() {
				fields = append(fields, FieldValue{Name: field.Name, Kind: reflect.Ptr, Value: "nil"})
				continue
			}
			fv = fv.Elem()
		}
		fields = append(fields, describeField(field.Name, fv))
	}
	return fields
}

func describeField(name string, val reflect.Value) FieldValue {
	f := FieldValue{Name: name, Kind: val.Kind()}
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.Value = strconv.FormatInt(val.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f.Value = strconv.FormatUint(val.Uint(), 10)
	case reflect.Float32:
		f.Value = strconv.FormatFloat(val.Float(), 'g', -1, 32)
	case reflect.Float64:
		f.Value = strconv.FormatFloat(val.Float(), 'g', -1, 64)
	case reflect.Bool:
		f.Value = strconv.FormatBool(val.Bool())
	case reflect.String:
		f.Value = val.String()
	case reflect.Struct:
		f.Fields = describeValue(val)
	case reflect.Slice, reflect.Array:
		f.Value = fmt.Sprintf("[%d items]", val.Len())
	case reflect.Map:
		f.Value = fmt.Sprintf("map[%d items]", val.Len())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Interface:
		f.Value = val.Type().String()
	default:
		f.Value = fmt.Sprintf("%v", val.Interface())
	}
	return f
}

// SetField parses value into the named field of the component id on e and
// emits OnSet. Nested fields are addressed with dots, as in "Pos.X". Only
// numeric, bool and string fields can be set.
func SetField(w *ecs.World, e ecs.EntityId, id ecs.Id, path, value string) error {
	component := w.GetAny(e, id)
	if component == nil {
		return eris.Wrapf(ErrNoSuchField, "%s has no value for %s", e, w.IdName(id))
	}

	val := reflect.ValueOf(component).Elem()
	for _, name := range strings.Split(path, ".") {
		if val.Kind() == reflect.Ptr {
			if val.IsNil() {
				return eris.Wrapf(ErrNoSuchField, "%s is nil", path)
			}
			val = val.Elem()
		}
		if val.Kind() != reflect.Struct {
			return eris.Wrapf(ErrNoSuchField, "%s in %s", path, w.IdName(id))
		}
		field, ok := lookupField(val.Type(), name)
		if !ok {
			return eris.Wrapf(ErrNoSuchField, "%s in %s", path, w.IdName(id))
		}
		val = val.Field(field.Index)
	}
	if val.Kind() == reflect.Ptr && !val.IsNil() {
		val = val.Elem()
	}

	if err := assign(val, value); err != nil {
		return eris.Wrapf(err, "set %s.%s", w.IdName(id), path)
	}
	w.Modified(e, id)
	return nil
}

func assign(field reflect.Value, value string) error {
	if !field.CanSet() {
		return ErrNoSuchField
	}
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(v)
	case reflect.String:
		field.SetString(value)
	default:
		return eris.Wrapf(ErrUnsupportedField, "%s", field.Kind())
	}
	return nil
}

// FieldInfo caches what Inspect needs to know about a struct field.
type FieldInfo struct {
	Name      string
	Type      reflect.Type
	Index     int
	IsPointer bool
}

var fieldCache sync.Map // reflect.Type -> []FieldInfo

func fieldsOf(t reflect.Type) []FieldInfo {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]FieldInfo)
	}

	var fields []FieldInfo
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldType := field.Type
		isPointer := fieldType.Kind() == reflect.Ptr
		if isPointer {
			fieldType = fieldType.Elem()
		}
		fields = append(fields, FieldInfo{
			Name:      field.Name,
			Type:      fieldType,
			Index:     i,
			IsPointer: isPointer,
		})
	}

	actual, _ := fieldCache.LoadOrStore(t, fields)
	return actual.([]FieldInfo)
}

func lookupField(t reflect.Type, name string) (FieldInfo, bool) {
	for _, f := range fieldsOf(t) {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}
