package paging

import "testing"

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name  string
		page  Page
		total int
		want  Pagination
	}{
		{"zero values use defaults", Page{}, 45, Pagination{Page: 1, Limit: DefaultLimit, Total: 45, TotalPages: 3}},
		{"limit is capped", Page{Page: 2, Limit: 500}, 250, Pagination{Page: 2, Limit: MaxLimit, Total: 250, TotalPages: 3}},
		{"empty result has no pages", Page{Page: 1, Limit: 10}, 0, Pagination{Page: 1, Limit: 10, Total: 0, TotalPages: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPagination(tt.page, tt.total); got != tt.want {
				t.Errorf("NewPagination() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPageWindow(t *testing.T) {
	start, end := Page{Page: 3, Limit: 10}.Window(25)
	if start != 20 || end != 25 {
		t.Errorf("Window() = [%d,%d), want [20,25)", start, end)
	}
	start, end = Page{Page: 9, Limit: 10}.Window(25)
	if start != 25 || end != 25 {
		t.Errorf("Window() past the end = [%d,%d), want [25,25)", start, end)
	}
}
