// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package binary translates between fixed-size Go structs and the
// little-endian byte layout an aarch64 user program sees.
//
// Only fixed-width integers, arrays and structs of them are supported. Blank
// padding fields are written as zeroes and skipped on decode.
package binary

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// LittleEndian is the byte order of every structure exchanged with user
// programs.
var LittleEndian = binary.LittleEndian

// AppendUint16 appends the little-endian representation of num to buf.
func AppendUint16(buf []byte, num uint16) []byte {
	return LittleEndian.AppendUint16(buf, num)
}

// AppendUint32 appends the little-endian representation of num to buf.
func AppendUint32(buf []byte, num uint32) []byte {
	return LittleEndian.AppendUint32(buf, num)
}

// AppendUint64 appends the little-endian representation of num to buf.
func AppendUint64(buf []byte, num uint64) []byte {
	return LittleEndian.AppendUint64(buf, num)
}

// Marshal appends the representation of data to buf. data may be a pointer,
// but cannot contain pointers.
func Marshal(buf []byte, data any) []byte {
	return marshal(buf, reflect.Indirect(reflect.ValueOf(data)))
}

func marshal(buf []byte, data reflect.Value) []byte {
	switch data.Kind() {
	case reflect.Int8:
		buf = append(buf, byte(int8(data.Int())))
	case reflect.Int16:
		buf = AppendUint16(buf, uint16(int16(data.Int())))
	case reflect.Int32:
		buf = AppendUint32(buf, uint32(int32(data.Int())))
	case reflect.Int64:
		buf = AppendUint64(buf, uint64(data.Int()))
	case reflect.Uint8:
		buf = append(buf, byte(data.Uint()))
	case reflect.Uint16:
		buf = AppendUint16(buf, uint16(data.Uint()))
	case reflect.Uint32:
		buf = AppendUint32(buf, uint32(data.Uint()))
	case reflect.Uint64:
		buf = AppendUint64(buf, data.Uint())
	case reflect.Array, reflect.Slice:
		for i, l := 0, data.Len(); i < l; i++ {
			buf = marshal(buf, data.Index(i))
		}
	case reflect.Struct:
		for i, l := 0, data.NumField(); i < l; i++ {
			buf = marshal(buf, data.Field(i))
		}
	default:
		panic("invalid type: " + data.Type().String())
	}
	return buf
}

// Unmarshal decodes buf into data, which must be a pointer or a slice. buf
// must be exactly Size(data) bytes long.
func Unmarshal(buf []byte, data any) {
	value := reflect.ValueOf(data)
	switch value.Kind() {
	case reflect.Ptr:
		value = value.Elem()
	case reflect.Slice:
	default:
		panic("invalid type: " + value.Type().String())
	}
	if want := sizeof(value); uintptr(len(buf)) != want {
		panic(fmt.Sprintf("buffer is %d bytes, want %d", len(buf), want))
	}
	unmarshal(buf, value)
}

func unmarshal(buf []byte, data reflect.Value) []byte {
	switch data.Kind() {
	case reflect.Int8:
		data.SetInt(int64(int8(buf[0])))
		buf = buf[1:]
	case reflect.Int16:
		data.SetInt(int64(int16(LittleEndian.Uint16(buf))))
		buf = buf[2:]
	case reflect.Int32:
		data.SetInt(int64(int32(LittleEndian.Uint32(buf))))
		buf = buf[4:]
	case reflect.Int64:
		data.SetInt(int64(LittleEndian.Uint64(buf)))
		buf = buf[8:]
	case reflect.Uint8:
		data.SetUint(uint64(buf[0]))
		buf = buf[1:]
	case reflect.Uint16:
		data.SetUint(uint64(LittleEndian.Uint16(buf)))
		buf = buf[2:]
	case reflect.Uint32:
		data.SetUint(uint64(LittleEndian.Uint32(buf)))
		buf = buf[4:]
	case reflect.Uint64:
		data.SetUint(LittleEndian.Uint64(buf))
		buf = buf[8:]
	case reflect.Array, reflect.Slice:
		for i, l := 0, data.Len(); i < l; i++ {
			buf = unmarshal(buf, data.Index(i))
		}
	case reflect.Struct:
		for i, l := 0, data.NumField(); i < l; i++ {
			if field := data.Field(i); field.CanSet() {
				buf = unmarshal(buf, field)
			} else {
				buf = buf[sizeof(field):]
			}
		}
	default:
		panic("invalid type: " + data.Type().String())
	}
	return buf
}

// Size calculates the buffer size needed by Marshal or Unmarshal.
func Size(v any) uintptr {
	return sizeof(reflect.Indirect(reflect.ValueOf(v)))
}

func sizeof(data reflect.Value) uintptr {
	switch data.Kind() {
	case reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32:
		return 4
	case reflect.Int64, reflect.Uint64:
		return 8
	case reflect.Array:
		if data.Len() == 0 {
			return 0
		}
		return uintptr(data.Len()) * sizeof(data.Index(0))
	case reflect.Slice:
		var size uintptr
		for i, l := 0, data.Len(); i < l; i++ {
			size += sizeof(data.Index(i))
		}
		return size
	case reflect.Struct:
		var size uintptr
		for i, l := 0, data.NumField(); i < l; i++ {
			size += sizeof(data.Field(i))
		}
		return size
	default:
		panic("invalid type: " + data.Type().String())
	}
}
