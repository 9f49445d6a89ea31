package region

import "testing"

func TestFromAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantOK  bool
	}{
		{"trailing code", "1000 Main St, Denver, CO 80202", "CO", true},
		{"trailing name", "Fairview High School, Boulder, Colorado", "CO", true},
		{"multi word name", "Stuyvesant HS, New York", "NY", true},
		{"last match wins", "Stratford ON Avon, CT", "CT", true},
		{"only inner token", "Stratford ON Avon", "ON", true},
		{"accented province", "Collège Jean-de-Brébeuf, Montréal, Québec", "QC", true},
		{"lowercase english word ignored", "meet in the library", "", false},
		{"lowercase code ignored", "123 Main St, Denver, co 80202", "", false},
		{"west virginia beats virginia", "Morgantown, West Virginia", "WV", true},
		{"nothing", "Somewhere Hall", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromAddress(tt.address)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("FromAddress(%q) = %q, %v; want %q, %v", tt.address, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	r, ok := Lookup("on")
	if !ok || r.Name != "Ontario" || r.Country != "CA" {
		t.Errorf("Lookup(on) = %+v, %v", r, ok)
	}
	if _, ok := Lookup("ZZ"); ok {
		t.Error("expected ZZ to be unknown")
	}
}
