package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

func applyDefaults(v reflect.Value) error {
	return walkTagged(v, "default", func(field reflect.Value, value string) error {
		return setFieldValue(field, value)
	})
}

func loadStructFromEnv(v reflect.Value) error {
	return walkTagged(v, "env", func(field reflect.Value, name string) error {
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return nil
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// walkTagged calls fn for every settable leaf field carrying tag, recursing
// into nested structs
func walkTagged(v reflect.Value, tag string, fn func(reflect.Value, string) error) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := walkTagged(field, tag, fn); err != nil {
				return err
			}
			continue
		}

		tagValue := fieldType.Tag.Get(tag)
		if tagValue == "" {
			continue
		}
		if err := fn(field, tagValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}
