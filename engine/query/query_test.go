package query

import (
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestParseQueryCasting(t *testing.T) {
	params, csv, err := ParseQuery("driver_number=1&lap_duration%3E=91.5&team_colour=3671C6&csv=true")
	if err != nil {
		t.Fatal(err)
	}
	if !csv {
		t.Error("csv switch not detected")
	}
	if len(params) != 3 {
		t.Fatalf("got %d params, want 3", len(params))
	}
	if params[0].Field != "driver_number" || params[0].Op != OpEq || params[0].Value != int64(1) {
		t.Errorf("param 0 = %+v", params[0])
	}
	if params[1].Field != "lap_duration" || params[1].Op != OpGte || params[1].Value != 91.5 {
		t.Errorf("param 1 = %+v", params[1])
	}
	// team_colour values may be all digits but must stay textual.
	if params[2].Value != "3671C6" {
		t.Errorf("team_colour = %v (%T)", params[2].Value, params[2].Value)
	}
}

func TestParseQueryRejectsGarbage(t *testing.T) {
	if _, _, err := ParseQuery("nonsense"); err == nil {
		t.Error("parameter without operator accepted")
	}
}

func TestDateOnlyExpansion(t *testing.T) {
	day := time.Date(2023, 9, 16, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	cases := []struct {
		in   string
		want []Param
	}{
		{"date=2023-09-16", []Param{
			{Field: "date", Op: OpGte, Value: day},
			{Field: "date", Op: OpLt, Value: next},
		}},
		{"date%3C=2023-09-16", []Param{{Field: "date", Op: OpLt, Value: next}}},
		{"date%3E2023-09-16", []Param{{Field: "date", Op: OpGte, Value: next}}},
		{"date%3C2023-09-16", []Param{{Field: "date", Op: OpLt, Value: day}}},
		{"date%3E=2023-09-16", []Param{{Field: "date", Op: OpGte, Value: day}}},
	}
	for _, tc := range cases {
		params, _, err := ParseQuery(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if !reflect.DeepEqual(params, tc.want) {
			t.Errorf("%s: got %+v, want %+v", tc.in, params, tc.want)
		}
	}
}

func TestDateWithTimeNotExpanded(t *testing.T) {
	params, _, err := ParseQuery("date=2023-09-16T13:00:00")
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 || params[0].Op != OpEq {
		t.Fatalf("timed date was expanded: %+v", params)
	}
}

func TestTimezoneSpaceReinterpretedAsPlus(t *testing.T) {
	// A '+04:00' suffix url-decodes to ' 04:00'.
	params, _, err := ParseQuery("date%3E=2023-09-16T13:00:00 04:00")
	if err != nil {
		t.Fatal(err)
	}
	if len(params) != 1 {
		t.Fatalf("got %d params", len(params))
	}
	want := time.Date(2023, 9, 16, 9, 0, 0, 0, time.UTC)
	got, ok := params[0].Value.(time.Time)
	if !ok || !got.Equal(want) {
		t.Errorf("value = %v, want %v", params[0].Value, want)
	}
}

func TestLatestAlias(t *testing.T) {
	params, _, err := ParseQuery("session_key=latest&driver_number=1")
	if err != nil {
		t.Fatal(err)
	}
	if !NeedsLatest(params) {
		t.Fatal("latest alias not detected")
	}
	resolved := ResolveLatest(params, 1219, 9161)
	if resolved[0].Value != int64(9161) {
		t.Errorf("session_key = %v, want 9161", resolved[0].Value)
	}
	if NeedsLatest(resolved) {
		t.Error("alias still present after resolution")
	}
}

func TestBuildFilterSingleField(t *testing.T) {
	params, _, err := ParseQuery("driver_number=55")
	if err != nil {
		t.Fatal(err)
	}
	filter := BuildFilter(params)
	want := bson.M{"driver_number": bson.M{"$eq": int64(55)}}
	if !reflect.DeepEqual(filter, want) {
		t.Errorf("filter = %v, want %v", filter, want)
	}
}

func TestBuildFilterBoundedPairsAndEqualities(t *testing.T) {
	params, _, err := ParseQuery("position=1&position=3&position%3E=4&position%3C=7&position%3E=10&position%3C=15")
	if err != nil {
		t.Fatal(err)
	}
	filter := BuildFilter(params)

	or, ok := filter["$or"].([]bson.M)
	if !ok {
		t.Fatalf("filter = %v, want top-level $or", filter)
	}
	if len(or) != 4 {
		t.Fatalf("got %d alternatives, want 4 (two equalities, two intervals)", len(or))
	}
	// Greedy matching pairs 4 with 7 and 10 with 15.
	interval1 := or[2]["$and"].([]bson.M)
	if !reflect.DeepEqual(interval1[0], bson.M{"position": bson.M{"$gte": int64(4)}}) ||
		!reflect.DeepEqual(interval1[1], bson.M{"position": bson.M{"$lte": int64(7)}}) {
		t.Errorf("first interval = %v", interval1)
	}
	interval2 := or[3]["$and"].([]bson.M)
	if !reflect.DeepEqual(interval2[0], bson.M{"position": bson.M{"$gte": int64(10)}}) ||
		!reflect.DeepEqual(interval2[1], bson.M{"position": bson.M{"$lte": int64(15)}}) {
		t.Errorf("second interval = %v", interval2)
	}
}

func TestBuildFilterUnboundedLeftover(t *testing.T) {
	params, _, err := ParseQuery("lap_number%3E=30&lap_number%3C=40&lap_number%3E=50")
	if err != nil {
		t.Fatal(err)
	}
	filter := BuildFilter(params)
	or, ok := filter["$or"].([]bson.M)
	if !ok || len(or) != 2 {
		t.Fatalf("filter = %v, want one interval plus one unbounded bound", filter)
	}
	if !reflect.DeepEqual(or[1], bson.M{"lap_number": bson.M{"$gte": int64(50)}}) {
		t.Errorf("leftover = %v", or[1])
	}
}

func TestBuildFilterAcrossFields(t *testing.T) {
	params, _, err := ParseQuery("session_key=9161&driver_number=63")
	if err != nil {
		t.Fatal(err)
	}
	filter := BuildFilter(params)
	and, ok := filter["$and"].([]bson.M)
	if !ok || len(and) != 2 {
		t.Fatalf("filter = %v, want $and of two fields", filter)
	}
}

func TestShapeStripsAndSorts(t *testing.T) {
	rows := []bson.M{
		{"_id": int64(2), "_key": "b", "driver_number": int64(44), "session_key": int64(9161)},
		{"_id": int64(1), "_key": "a", "driver_number": int64(1), "session_key": int64(9161)},
		{"_id": int64(3), "_key": "c", "driver_number": int64(1), "session_key": int64(9161)},
	}
	shaped := Shape(rows)
	if len(shaped) != 2 {
		t.Fatalf("got %d rows, want 2 after content dedup", len(shaped))
	}
	if _, ok := shaped[0]["_key"]; ok {
		t.Error("underscore field not stripped")
	}
	if shaped[0]["driver_number"] != int64(1) || shaped[1]["driver_number"] != int64(44) {
		t.Errorf("rows not sorted by driver_number: %v", shaped)
	}
}

func TestShapeSkipsSparseSortKeys(t *testing.T) {
	rows := []bson.M{
		{"driver_number": int64(44), "position": nil},
		{"driver_number": int64(1), "position": int64(3)},
	}
	shaped := Shape(rows)
	// position is null in one row so only driver_number orders.
	if shaped[0]["driver_number"] != int64(1) {
		t.Errorf("rows = %v", shaped)
	}
}

func TestEncodeCSV(t *testing.T) {
	rows := []map[string]any{
		{"b": int64(2), "a": "x"},
		{"a": "y", "c": 1.5},
	}
	out, err := EncodeCSV(rows)
	if err != nil {
		t.Fatal(err)
	}
	want := "a,b,c\nx,2,\ny,,1.5\n"
	if out != want {
		t.Errorf("csv = %q, want %q", out, want)
	}

	if _, err := EncodeCSV(nil); err == nil {
		t.Error("empty result should error")
	}
}

func TestRequestCache(t *testing.T) {
	c := newRequestCache(50*time.Millisecond, 10)
	params, _, _ := ParseQuery("driver_number=1")
	key := cacheKey("laps", params)

	if _, ok := c.get(key); ok {
		t.Fatal("hit on empty cache")
	}
	rows := []map[string]any{{"driver_number": int64(1)}}
	c.put(key, rows)
	got, ok := c.get(key)
	if !ok || len(got) != 1 {
		t.Fatal("miss right after put")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.get(key); ok {
		t.Error("hit after TTL expiry")
	}
}

func TestCacheKeyIgnoresParamOrder(t *testing.T) {
	a, _, _ := ParseQuery("driver_number=1&session_key=9161")
	b, _, _ := ParseQuery("session_key=9161&driver_number=1")
	if cacheKey("laps", a) != cacheKey("laps", b) {
		t.Error("cache key depends on parameter order")
	}
}
