package pagination

import "testing"

type row struct{ id string }

func TestCursorRoundTripKeepsFields(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "abc", CreatedAt: "2026-01-02T03:04:05Z"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "abc" || cursor.CreatedAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("%%%"); err == nil {
		t.Fatalf("expected error for invalid token")
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	data := []*row{{id: "1"}, {id: "2"}, {id: "3"}}

	page, info := BuildCursorPageInfo(data, 2, func(r *row) string { return r.id })
	if len(page) != 2 {
		t.Fatalf("expected trimmed page of 2, got %d", len(page))
	}
	if !info.HasMore || info.NextPageToken != "2" {
		t.Fatalf("unexpected page info %+v", info)
	}

	page, info = BuildCursorPageInfo(data, 5, func(r *row) string { return r.id })
	if len(page) != 3 || info.HasMore || info.NextPageToken != "" {
		t.Fatalf("unexpected last page %d %+v", len(page), info)
	}
}

func TestNormalizePageSize(t *testing.T) {
	cases := map[int32]int32{0: DefaultPageSize, -4: DefaultPageSize, 10: 10, 1000: MaxPageSize}
	for in, want := range cases {
		if got := NormalizePageSize(in); got != want {
			t.Fatalf("NormalizePageSize(%d) = %d, want %d", in, got, want)
		}
	}
}
