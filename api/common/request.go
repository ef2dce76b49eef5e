//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package common

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/uber/aresquery/utils"
)

// paramSources lists the struct tags ReadRequest binds from, in lookup order.
var paramSources = []string{"header", "path", "query"}

// paramTag is a parsed `header:"name,optional"` style tag.
type paramTag struct {
	source   string
	name     string
	optional bool
}

func lookupParamTag(field reflect.StructField) (paramTag, bool) {
	for _, source := range paramSources {
		value, ok := field.Tag.Lookup(source)
		if !ok {
			continue
		}
		parts := strings.Split(value, ",")
		tag := paramTag{source: source, name: parts[0]}
		for _, option := range parts[1:] {
			if option == "optional" {
				tag.optional = true
			}
		}
		return tag, true
	}
	return paramTag{}, false
}

// paramValue returns the raw value of a tagged param. Query params come from the url
// only, so reading them never consumes the body.
func paramValue(r *http.Request, tag paramTag) string {
	switch tag.source {
	case "header":
		return r.Header.Get(tag.name)
	case "path":
		return mux.Vars(r)[tag.name]
	default:
		return r.URL.Query().Get(tag.name)
	}
}

// setParam converts raw into the kind of field.
func setParam(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return utils.APIError{
			Code:    http.StatusInternalServerError,
			Message: "unsupported request field kind " + field.Kind().String(),
		}
	}
	return nil
}

func readBody(r *http.Request, field reflect.Value) error {
	if r.Body == nil {
		return ErrMissingParameter
	}
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return utils.APIError{
			Code:    http.StatusBadRequest,
			Message: ErrMsgFailedToReadRequestBody,
			Cause:   err,
		}
	}
	switch field.Addr().Interface().(type) {
	case *[]byte, *json.RawMessage:
		field.SetBytes(body)
		return nil
	}
	if err = json.Unmarshal(body, field.Addr().Interface()); err != nil {
		return utils.APIError{
			Code:    http.StatusBadRequest,
			Message: ErrMsgFailedToUnmarshalRequest,
			Cause:   err,
		}
	}
	return nil
}

func bindRequest(r *http.Request, obj reflect.Value) error {
	objType := obj.Type()
	for i := 0; i < objType.NumField(); i++ {
		field := objType.Field(i)
		value := obj.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindRequest(r, value); err != nil {
				return err
			}
			continue
		}
		if tag, ok := lookupParamTag(field); ok {
			raw := paramValue(r, tag)
			if raw == "" {
				if tag.optional {
					continue
				}
				return ErrMissingParameter
			}
			if err := setParam(value, raw); err != nil {
				if apiErr, ok := err.(utils.APIError); ok {
					return apiErr
				}
				return utils.APIError{Code: http.StatusBadRequest, Message: ErrMsgMissingParameter, Cause: err}
			}
			continue
		}
		if _, ok := field.Tag.Lookup("body"); ok {
			if err := readBody(r, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRequest binds an http request into obj, a pointer to a request struct.
// Fields tagged `header:"name"`, `path:"name"` or `query:"name"` take the named param,
// with ",optional" allowing it to be absent. The field tagged `body:""` takes the json
// body, or the raw bytes when it is a []byte or json.RawMessage. Anonymous struct
// fields are bound the same way. The bound request is kept on rw for logging.
//
//	type SourceRequest struct {
//		Source  string `path:"source"`
//		Verbose bool   `query:"verbose,optional"`
//	}
func ReadRequest(r *http.Request, obj interface{}, rw *utils.ResponseWriter) error {
	ptr := reflect.ValueOf(obj)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		return utils.APIError{
			Code:    http.StatusInternalServerError,
			Message: "Expecting request object to be a pointer to struct",
		}
	}
	if err := bindRequest(r, ptr.Elem()); err != nil {
		return err
	}
	if rw != nil {
		rw.SetRequest(ptr.Elem().Interface())
	}
	return nil
}
