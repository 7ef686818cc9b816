package output

import "testing"

func TestRowBuilderRejectsWrongColumnCount(t *testing.T) {
	tbl := &Table{
		Name:    "planet_osm_point",
		Schema:  "public",
		Columns: []string{"osm_id", "tags", "way"},
		queue:   make(chan command, 1),
		done:    make(chan struct{}),
	}
	close(tbl.done) // simulate a stopped writer so EndRow doesn't block

	err := tbl.NewRow().AddColumn(int64(1)).AddColumn(nil).EndRow()
	if err == nil {
		t.Fatal("expected error for mismatched column count")
	}
}

func TestRowBuilderAccumulatesColumnsInOrder(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b", "c"}}
	r := tbl.NewRow().AddColumn(1).AddColumn("x").AddColumn(true)
	if len(r.cols) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(r.cols))
	}
	if r.cols[0] != 1 || r.cols[1] != "x" || r.cols[2] != true {
		t.Errorf("unexpected column order: %v", r.cols)
	}
}
