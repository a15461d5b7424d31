package cmdline

import "testing"

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"simple cpp", `ccache g++ -O2 -Isrc src/foo.cpp -o foo.o`, "src/foo.cpp", true},
		{"last wins", `g++ -Iinclude/stub.cc -c src/real/thing.cc`, "src/real/thing.cc", true},
		{"c file end of string", `gcc -c a/b/file.c`, "a/b/file.c", true},
		{"c file followed by space", `gcc -c a/b/file.c -o out.o`, "a/b/file.c", true},
		{"bare letter rejected", `gcc -c noslash.c`, "", false},
		{"strips leading dotdot", `gcc -c ../../src/foo.cpp`, "src/foo.cpp", true},
		{"quoted path", `sh -c "cd build && gcc -c src/quoted.cpp"`, "src/quoted.cpp", true},
		{"no candidate", `echo hello world`, "", false},
		{"dotc not file ext", `gcc -c src/foo.cxx`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract(tc.in)
			if ok != tc.ok {
				t.Fatalf("Extract(%q) ok=%v want %v", tc.in, ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Fatalf("Extract(%q) = %q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExtractIdempotent(t *testing.T) {
	in := `g++ -O2 src/foo.cpp -o foo.o`
	key, ok := Extract(in)
	if !ok {
		t.Fatal("expected a match")
	}
	key2, ok2 := Extract(key)
	if !ok2 || key2 != key {
		t.Fatalf("Extract not idempotent: %q -> %q", key, key2)
	}
}

func TestExtractFromArgv(t *testing.T) {
	argv := []string{"gcc", "-c", "src/foo.c"}
	got, ok := ExtractFromArgv(argv)
	if !ok || got != "src/foo.c" {
		t.Fatalf("got %q,%v", got, ok)
	}
	if _, ok := ExtractFromArgv(nil); ok {
		t.Fatal("expected no match for empty argv")
	}
}

func TestFromProcCmdline(t *testing.T) {
	raw := []byte("gcc\x00-c\x00src/foo.c\x00")
	got := FromProcCmdline(raw)
	if got != "gcc -c src/foo.c" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hell…" {
		t.Fatalf("got %q", got)
	}
}

func TestRedact(t *testing.T) {
	in := `deploy --password=hunter2 --token=abc123 Authorization: bearer xyz.abc`
	got := Redact(in)
	if got == in {
		t.Fatal("expected redaction to change the string")
	}
	for _, bad := range []string{"hunter2", "abc123", "xyz.abc"} {
		if contains(got, bad) {
			t.Fatalf("redacted output still contains %q: %q", bad, got)
		}
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
