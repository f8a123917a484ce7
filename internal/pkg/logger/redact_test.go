package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"x@example.com", "***@example.com"},
		{"not-an-address", "***@***"},
		{"", "***@***"},
		{"@example.com", "***@***"},
		{"a@b@c.com", "***@***"},
	}
	for _, tc := range tests {
		if got := RedactEmail(tc.in); got != tc.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactField(t *testing.T) {
	tests := []struct {
		key  string
		val  string
		want string
	}{
		{"email", "john.doe@example.com", "jo***@example.com"},
		{"contact_email", "alice@example.com", "al***@example.com"},
		{"first_name", "Alice", "A***"},
		{"last_name", "", ""},
		{"error", `duplicate key value "bob.smith@example.com"`, `duplicate key value "bo***@example.com"`},
		{"tenant_id", "7f9c3a10-0000-0000-0000-000000000000", "7f9c3a10-0000-0000-0000-000000000000"},
		{"segment_name", "VIP Buyers", "VIP Buyers"},
	}
	for _, tc := range tests {
		if got := redactField(tc.key, tc.val); got != tc.want {
			t.Errorf("redactField(%q, %q) = %q, want %q", tc.key, tc.val, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"WARN", WARN},
		{"warning", WARN},
		{"Error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
