package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, raw string) error {
		t.Helper()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			t.Fatalf("unmarshal sample: %v", err)
		}
		return s.Validate(v)
	}

	helloSchema := compile("hello.schema.json")
	actSchema := compile("act.schema.json")

	if err := validate(helloSchema, `{
	  "type":"hello",
	  "protocol_version":"1.0",
	  "player":"alice"
	}`); err != nil {
		t.Fatalf("valid hello rejected: %v", err)
	}
	if err := validate(helloSchema, `{"type":"hello","protocol_version":"1.0"}`); err == nil {
		t.Fatalf("hello without player accepted")
	}

	if err := validate(actSchema, `{
	  "type":"act",
	  "id":"a1",
	  "action":"REQUEST_TRADE",
	  "to":"bob",
	  "pos":[10,64,-3]
	}`); err != nil {
		t.Fatalf("valid act rejected: %v", err)
	}
	if err := validate(actSchema, `{
	  "type":"act",
	  "id":"a2",
	  "action":"ADD_ITEM",
	  "trade_id":"trade_1_100",
	  "slot":0
	}`); err != nil {
		t.Fatalf("valid add_item rejected: %v", err)
	}
	if err := validate(actSchema, `{"type":"act","id":"a3","action":"STEAL_ITEMS"}`); err == nil {
		t.Fatalf("unknown action accepted")
	}
	if err := validate(actSchema, `{"type":"act","action":"SET_READY"}`); err == nil {
		t.Fatalf("act without id accepted")
	}
}
