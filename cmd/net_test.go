package main

import "testing"

func TestSplitHostPortDefault(t *testing.T) {
	host, port, err := splitHostPort("192.168.0.42", 8080)
	if err != nil {
		t.Fatal(err)
	}
	if host != "192.168.0.42" || port != "8080" {
		t.Fatalf("expected 192.168.0.42 8080, actual %s %s", host, port)
	}
}

func TestSplitHostPortExplicit(t *testing.T) {
	host, port, err := splitHostPort("localhost:9000", 8080)
	if err != nil {
		t.Fatal(err)
	}
	if host != "localhost" || port != "9000" {
		t.Fatalf("expected localhost 9000, actual %s %s", host, port)
	}
}

func TestNormalizeAPIURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080/": "http://127.0.0.1:8080",
		"https://greet.me":       "https://greet.me",
		"10.0.0.5":               "http://10.0.0.5:8080",
		"localhost:9999":         "http://localhost:9999",
		"  http://127.0.0.1:1  ": "http://127.0.0.1:1",
	}
	for raw, expected := range cases {
		actual, err := normalizeAPIURL(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if actual != expected {
			t.Fatalf("%q: expected %s, actual %s", raw, expected, actual)
		}
	}
}

func TestNormalizeAPIURLInvalid(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "[::1"} {
		if _, err := normalizeAPIURL(raw); err == nil {
			t.Fatalf("%q: expected an error", raw)
		}
	}
}
