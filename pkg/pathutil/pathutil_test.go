package pathutil

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":             "/",
		"/":            "/",
		"foo":          "/foo",
		"/foo/":        "/foo",
		"/foo//bar":    "/foo/bar",
		"/foo/./bar":   "/foo/bar",
		"/foo/../bar":  "/bar",
		"/../../etc":   "/etc",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("/a", "b", "c"); got != "/a/b/c" {
		t.Errorf("Join = %q", got)
	}
	if got := Join("/a/", "/b"); got != "/a/b" {
		t.Errorf("Join = %q", got)
	}
}

func TestDirnameBasename(t *testing.T) {
	if got := Dirname("/a/b/c"); got != "/a/b" {
		t.Errorf("Dirname = %q", got)
	}
	if got := Dirname("/a"); got != "/" {
		t.Errorf("Dirname(/a) = %q", got)
	}
	if got := Basename("/a/b/c"); got != "c" {
		t.Errorf("Basename = %q", got)
	}
	if got := Basename("/"); got != "" {
		t.Errorf("Basename(/) = %q", got)
	}
}

func TestParts(t *testing.T) {
	got := Parts("/a/b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Parts = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Parts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if got := Parts("/"); got != nil {
		t.Errorf("Parts(/) = %v, want nil", got)
	}
}

func TestRelative(t *testing.T) {
	cases := []struct{ from, to, want string }{
		{"/foo/bar", "/foo/bar/baz", "baz"},
		{"/foo/bar/baz", "/foo/bar", ".."},
		{"/foo/bar", "/foo/baz", "../baz"},
		{"/foo/bar", "/foo/bar", ""},
		{"/", "/foo", "foo"},
	}
	for _, c := range cases {
		if got := Relative(c.from, c.to); got != c.want {
			t.Errorf("Relative(%q, %q) = %q, want %q", c.from, c.to, got, c.want)
		}
	}
}
