package config

import "testing"

func TestExpandVars(t *testing.T) {
	lookup := func(k string) (string, bool) {
		m := map[string]string{"HOST": "db.internal", "EMPTY": ""}
		v, ok := m[k]
		return v, ok
	}

	cases := []struct{ in, want string }{
		{"host: ${HOST}", "host: db.internal"},
		{"port: ${PORT:-8463}", "port: 8463"},
		{"user: $HOST!", "user: db.internal!"},
		{"x: ${MISSING}", "x: "},
		{"y: ${EMPTY:-fallback}", "y: "},
		{"plain text", "plain text"},
	}
	for _, c := range cases {
		got := expandVars(c.in, lookup)
		if got != c.want {
			t.Errorf("expandVars(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
