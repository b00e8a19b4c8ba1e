// Package binschema is a small reflection-driven fixed-width binary
// codec: a declarative list of named struct fields, each written/read at
// a known width. The mapsforge block format itself is a hand-rolled
// variable-length cursor parser (see package io's ReadBuffer) and has no
// use for this, but the supplementary map-file header this repo reads
// (package header) is made of ordinary fixed-width fields, which is
// exactly what this schema machinery is for.
package binschema

import (
	"encoding/binary"
	"github.com/pkg/errors"
	"math"
	"reflect"
)

type Datatype int

const (
	DatatypeByte Datatype = iota
	DatatypeInt16
	DatatypeInt32
	DatatypeInt64
	DatatypeFloat64
)

type Item interface {
	Write(object any, data []byte, index int) (int, error)
	Read(object any, data []byte, index int) (int, error)
}

// Schema is an ordered list of Items, written and read in that order.
type Schema struct {
	Items []Item
}

func (s *Schema) Write(object any, data []byte, index int) (int, error) {
	var err error
	for _, item := range s.Items {
		index, err = item.Write(object, data, index)
		if err != nil {
			return -1, err
		}
	}
	return index, nil
}

func (s *Schema) Read(object any, data []byte, index int) (int, error) {
	var err error
	for _, item := range s.Items {
		index, err = item.Read(object, data, index)
		if err != nil {
			return -1, err
		}
	}
	return index, nil
}

// DataItem is a single fixed-width struct field.
type DataItem struct {
	FieldName  string
	BinaryType Datatype
}

func (d *DataItem) Write(object any, data []byte, index int) (int, error) {
	field := reflect.ValueOf(object).FieldByName(d.FieldName)
	return writeValue(d.BinaryType, d.FieldName, field, data, index)
}

func (d *DataItem) Read(object any, data []byte, index int) (int, error) {
	field := reflect.Indirect(reflect.ValueOf(object)).FieldByName(d.FieldName)
	return readValue(d.BinaryType, d.FieldName, field, data, index)
}

// StringItem reads/writes a VBE-free, length-prefixed (uint16) UTF-8
// string field - used for the header's comment and created-by strings.
type StringItem struct {
	FieldName string
}

func (s *StringItem) Write(object any, data []byte, index int) (int, error) {
	field := reflect.ValueOf(object).FieldByName(s.FieldName)
	str := field.String()
	binary.LittleEndian.PutUint16(data[index:], uint16(len(str)))
	index += 2
	copy(data[index:], str)
	index += len(str)
	return index, nil
}

func (s *StringItem) Read(object any, data []byte, index int) (int, error) {
	field := reflect.Indirect(reflect.ValueOf(object)).FieldByName(s.FieldName)
	if index+2 > len(data) {
		return -1, errors.Errorf("cannot read string length for field %s at index %d: buffer too short", s.FieldName, index)
	}
	length := int(binary.LittleEndian.Uint16(data[index:]))
	index += 2
	if index+length > len(data) {
		return -1, errors.Errorf("cannot read %d-byte string for field %s at index %d: buffer too short", length, s.FieldName, index)
	}
	field.SetString(string(data[index : index+length]))
	index += length
	return index, nil
}

func writeValue(binaryType Datatype, fieldName string, value reflect.Value, data []byte, index int) (int, error) {
	switch binaryType {
	case DatatypeByte:
		data[index] = byte(uintFromValue(value))
		index += 1
	case DatatypeInt16:
		binary.LittleEndian.PutUint16(data[index:], uint16(uintFromValue(value)))
		index += 2
	case DatatypeInt32:
		binary.LittleEndian.PutUint32(data[index:], uint32(uintFromValue(value)))
		index += 4
	case DatatypeInt64:
		binary.LittleEndian.PutUint64(data[index:], uintFromValue(value))
		index += 8
	case DatatypeFloat64:
		binary.LittleEndian.PutUint64(data[index:], math.Float64bits(value.Float()))
		index += 8
	default:
		return -1, errors.Errorf("unsupported datatype %d for field %s", binaryType, fieldName)
	}
	return index, nil
}

func readValue(binaryType Datatype, fieldName string, value reflect.Value, data []byte, index int) (int, error) {
	switch binaryType {
	case DatatypeByte:
		if index+1 > len(data) {
			return -1, errors.Errorf("cannot read byte field %s at index %d: buffer too short", fieldName, index)
		}
		value.Set(reflect.ValueOf(data[index]))
		index += 1
	case DatatypeInt16:
		if index+2 > len(data) {
			return -1, errors.Errorf("cannot read int16 field %s at index %d: buffer too short", fieldName, index)
		}
		value.Set(reflect.ValueOf(int16(binary.LittleEndian.Uint16(data[index:]))))
		index += 2
	case DatatypeInt32:
		if index+4 > len(data) {
			return -1, errors.Errorf("cannot read int32 field %s at index %d: buffer too short", fieldName, index)
		}
		value.Set(reflect.ValueOf(int32(binary.LittleEndian.Uint32(data[index:]))))
		index += 4
	case DatatypeInt64:
		if index+8 > len(data) {
			return -1, errors.Errorf("cannot read int64 field %s at index %d: buffer too short", fieldName, index)
		}
		if value.Kind() == reflect.Uint64 {
			value.Set(reflect.ValueOf(binary.LittleEndian.Uint64(data[index:])))
		} else {
			value.Set(reflect.ValueOf(int64(binary.LittleEndian.Uint64(data[index:]))))
		}
		index += 8
	case DatatypeFloat64:
		if index+8 > len(data) {
			return -1, errors.Errorf("cannot read float64 field %s at index %d: buffer too short", fieldName, index)
		}
		value.Set(reflect.ValueOf(math.Float64frombits(binary.LittleEndian.Uint64(data[index:]))))
		index += 8
	default:
		return -1, errors.Errorf("unsupported datatype %d for field %s", binaryType, fieldName)
	}
	return index, nil
}

func uintFromValue(value reflect.Value) uint64 {
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(value.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return value.Uint()
	}
	panic("unsupported value kind " + value.Kind().String() + " to convert to uint")
}
