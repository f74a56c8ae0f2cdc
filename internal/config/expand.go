package config

import "strings"

// expandVars resolves ${VAR} and ${VAR:-default} references against env,
// in addition to the plain os.ExpandEnv-style ${VAR}/$VAR forms. It is a
// superset of the codebase's existing os.ExpandEnv-only expansion, needed
// because the configuration surface documents a default-value form that
// ExpandEnv does not support.
func expandVars(s string, lookup func(string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			expr := s[i+2 : i+2+end]
			name, def, hasDefault := splitDefault(expr)
			val, ok := lookup(name)
			switch {
			case ok:
				b.WriteString(val)
			case hasDefault:
				b.WriteString(def)
			}
			i += 2 + end
			continue
		}
		// bare $VAR form
		j := i + 1
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		name := s[i+1 : j]
		if val, ok := lookup(name); ok {
			b.WriteString(val)
		}
		i = j - 1
	}
	return b.String()
}

func splitDefault(expr string) (name, def string, hasDefault bool) {
	if idx := strings.Index(expr, ":-"); idx >= 0 {
		return expr[:idx], expr[idx+2:], true
	}
	return expr, "", false
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
