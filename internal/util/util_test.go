package util

import "testing"

func TestContentHash(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "Empty",
			content: "",
			want:    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:    "Hello",
			content: "hello",
			want:    "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ContentHashString(tc.content); got != tc.want {
				t.Errorf("ContentHashString(%q) = %s, want %s", tc.content, got, tc.want)
			}
			if got := ContentHash([]byte(tc.content)); got != tc.want {
				t.Errorf("ContentHash(%q) = %s, want %s", tc.content, got, tc.want)
			}
		})
	}
}

func TestContentHashDiffers(t *testing.T) {
	a := ContentHashString(`<p><img src="https://cdn.example.com/forum/posts/2026/01/a-1.png"></p>`)
	b := ContentHashString(`<p><img src="https://cdn.example.com/forum/posts/2026/01/a-2.png"></p>`)
	if a == b {
		t.Error("Different content should produce different hashes")
	}
}
