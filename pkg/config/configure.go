package config

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"
)

// ConfigureIterator walks the tagged fields of a configuration struct.
type ConfigureIterator struct {
	cfgValue reflect.Value
	cfgType  reflect.Type
	i        int
	tagName  string
}

// IterateConfiguration returns an iterator over the fields of conf, a
// pointer to a struct, named by their tagName struct tag.
func IterateConfiguration(conf interface{}, tagName string) *ConfigureIterator {
	cfgValue := reflect.ValueOf(conf).Elem()
	cfgType := cfgValue.Type()

	return &ConfigureIterator{cfgValue, cfgType, -1, tagName}
}

// Next advances the iterator.
func (it *ConfigureIterator) Next() bool {
	it.i++
	return it.i < it.cfgValue.NumField()
}

// Field returns the name and value of the current field.
func (it *ConfigureIterator) Field() (name string, field reflect.Value) {
	name = it.cfgType.Field(it.i).Tag.Get(it.tagName)
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	field = it.cfgValue.Field(it.i)
	return
}

// ConfigureFindFieldByName returns the field of conf called name.
func ConfigureFindFieldByName(conf interface{}, name, tagName string) reflect.Value {
	it := IterateConfiguration(conf, tagName)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.ValueOf(nil)
}

// ConfigureList writes every named field of conf with its value.
func ConfigureList(w io.Writer, conf interface{}, tagName string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	it := IterateConfiguration(conf, tagName)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == "" {
			continue
		}
		writeField(tw, fieldName, field)
	}
	return tw.Flush()
}

// ConfigureListByName returns the line ConfigureList would print for the
// field called cfgname, or "" if there is none.
func ConfigureListByName(conf interface{}, cfgname, tagName string) string {
	if cfgname == "" {
		return ""
	}
	it := IterateConfiguration(conf, tagName)
	var buf bytes.Buffer
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == cfgname {
			writeField(&buf, fieldName, field)
			break
		}
	}
	return buf.String()
}

func writeField(w io.Writer, fieldName string, field reflect.Value) {
	if field.Kind() == reflect.Ptr {
		if !field.IsNil() {
			fmt.Fprintf(w, "%s\t%v\n", fieldName, field.Elem())
		} else {
			fmt.Fprintf(w, "%s\t<not defined>\n", fieldName)
		}
	} else {
		fmt.Fprintf(w, "%s\t%v\n", fieldName, field)
	}
}

// ConfigureSetSimple parses rest as the value of the int, bool, string or
// string slice field called cfgname and stores it.
func ConfigureSetSimple(rest, cfgname string, field reflect.Value) error {
	simpleArg := func(typ reflect.Type) (reflect.Value, error) {
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number", cfgname)
			}
			if n < 0 {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
			}
			return reflect.ValueOf(&n), nil
		case reflect.Bool:
			if rest != "true" && rest != "false" {
				return reflect.ValueOf(nil), fmt.Errorf("argument to %q must be true or false", cfgname)
			}
			v := rest == "true"
			return reflect.ValueOf(&v), nil
		case reflect.String:
			s := rest
			return reflect.ValueOf(&s), nil
		case reflect.Slice:
			if typ.Elem().Kind() != reflect.String {
				break
			}
			v := SplitQuotedFields(rest, '"')
			return reflect.ValueOf(&v), nil
		}
		return reflect.ValueOf(nil), fmt.Errorf("unsupported type for configuration key %q", cfgname)
	}

	if field.Kind() == reflect.Ptr {
		val, err := simpleArg(field.Type().Elem())
		if err != nil {
			return err
		}
		field.Set(val)
	} else {
		val, err := simpleArg(field.Type())
		if err != nil {
			return err
		}
		field.Set(val.Elem())
	}
	return nil
}
