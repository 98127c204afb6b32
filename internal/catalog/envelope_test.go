package catalog

import (
	"encoding/json"
	"testing"
)

func TestExtractList_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare list", `[{"id":"1"},{"id":"2"}]`, 2},
		{"data", `{"data":[{"id":"1"}]}`, 1},
		{"items", `{"items":[{"id":"1"},{"id":"2"},{"id":"3"}],"totalCount":3}`, 3},
		{"result", `{"result":[{"id":"1"}]}`, 1},
		{"capitalized Data", `{"Data":[{"id":"1"},{"id":"2"}]}`, 2},
		{"capitalized Items", `{"Items":[{"id":"1"}]}`, 1},
		{"capitalized Result", `{"Result":[]}`, 0},
		{"nested data.items", `{"success":true,"data":{"items":[{"id":"1"},{"id":"2"}],"totalCount":2}}`, 2},
		{"leading whitespace", "  \n[{\"id\":\"1\"}]", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, ok := extractList([]byte(tt.body))
			if !ok {
				t.Fatalf("extractList(%s) found nothing", tt.body)
			}
			var items []json.RawMessage
			if err := json.Unmarshal(list, &items); err != nil {
				t.Fatalf("extracted payload is not a list: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

// TestExtractList_Priority verifies data wins over items when both are present.
func TestExtractList_Priority(t *testing.T) {
	list, ok := extractList([]byte(`{"items":[1,2,3],"data":[1]}`))
	if !ok {
		t.Fatal("expected a list")
	}
	if string(list) != "[1]" {
		t.Errorf("list = %s, want [1]", list)
	}
}

func TestExtractList_NoMatch(t *testing.T) {
	for _, body := range []string{
		``,
		`not json`,
		`{"message":"ok"}`,
		`{"data":"string"}`,
		`{"data":{"data":{"items":[1]}}}`,
		`42`,
	} {
		if list, ok := extractList([]byte(body)); ok {
			t.Errorf("extractList(%q) = %s, want no match", body, list)
		}
	}
}

func TestExtractObject(t *testing.T) {
	obj, ok := extractObject([]byte(`{"data":{"id":"s1"}}`))
	if !ok || string(obj) != `{"id":"s1"}` {
		t.Errorf("wrapped: got %s, %v", obj, ok)
	}
	obj, ok = extractObject([]byte(`{"id":"s2","shopName":"X"}`))
	if !ok || string(obj) != `{"id":"s2","shopName":"X"}` {
		t.Errorf("bare: got %s, %v", obj, ok)
	}
	if _, ok := extractObject([]byte(`[1,2]`)); ok {
		t.Error("list should not extract as an object")
	}
}

func TestDecodeList_SkipsMalformed(t *testing.T) {
	products := decodeList[Product](json.RawMessage(`[{"id":"p1","name":"A"}, "garbage", {"id":"p2","name":"B"}]`))
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}
	if products[1].ID != "p2" {
		t.Errorf("products[1].ID = %q, want p2", products[1].ID)
	}
}
