package server

import (
	"reflect"

	"github.com/bytedance/sonic"

	"quotagate/pkg/types"
)

var jsonHandler = sonic.Config{
	UseNumber:  true,
	EscapeHTML: true,
}.Froze()

func init() {
	// Pretouch the hot-path types so first requests skip compilation
	sonic.Pretouch(reflect.TypeOf(types.Decision{}))
	sonic.Pretouch(reflect.TypeOf(AuthorizeRequest{}))
}

func fastJSONMarshal(v interface{}) []byte {
	data, _ := jsonHandler.Marshal(v)
	return data
}

func fastJSONUnmarshal(data []byte, v interface{}) error {
	return jsonHandler.Unmarshal(data, v)
}
