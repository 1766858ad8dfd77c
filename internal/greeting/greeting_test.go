package greeting

import "testing"

func TestGreet(t *testing.T) {
	tests := []struct {
		lang string
		name string
		want string
	}{
		{"en", "Ann", "Welcome back, Ann!"},
		{"en-GB", "Ann", "Welcome back, Ann!"},
		{"de", "Jörg", "Willkommen zurück, Jörg!"},
		{"id", "Budi", "Selamat datang kembali, Budi!"},
		{"ja", "Ken", "Welcome back, Ken!"},
		{"en", "<b>Tom & Jerry</b>", "Welcome back, <b>Tom & Jerry</b>!"},
	}

	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.name, func(t *testing.T) {
			g, err := New(tt.lang)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.lang, err)
			}
			if got := g.Greet(tt.name); got != tt.want {
				t.Errorf("Greet(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestNewRejectsInvalidLanguage(t *testing.T) {
	if _, err := New("not a language!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}
