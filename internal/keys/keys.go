// Package keys maps between storage keys, public URLs and the URL-like
// strings found inside stored post content.
package keys

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	// Public URL objects are served from, e.g. https://cdn.example.com/media.
	PublicBaseURL string
	Bucket        string

	// Additional hosts that serve the bucket (S3 virtual host, CDN aliases).
	Hosts []string

	TemporaryPrefixes []string
	// The first entry is where promotions write to; the rest are legacy.
	PermanentPrefixes []string
}

// Codec is safe for concurrent use; it never touches storage or the network.
type Codec struct {
	baseURL  string
	basePath string
	bucket   string
	hosts    map[string]bool

	temporary []string
	permanent []string
}

// Ref is one key occurrence inside content. Start and End are byte offsets
// of the whole URL or path that produced Key.
type Ref struct {
	Start int
	End   int
	Key   string
}

var (
	tokenPattern   = regexp.MustCompile("[^\\s\"'<>()\\[\\]\\\\`]+")
	unsafeSegChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

func NewCodec(cfg Config) (*Codec, error) {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", cfg.PublicBaseURL)
	}

	c := &Codec{
		baseURL:  base,
		basePath: strings.Trim(u.Path, "/"),
		bucket:   strings.Trim(cfg.Bucket, "/"),
		hosts:    map[string]bool{strings.ToLower(u.Hostname()): true},
	}
	for _, h := range cfg.Hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			c.hosts[h] = true
		}
	}

	c.temporary = normalizePrefixes(cfg.TemporaryPrefixes)
	c.permanent = normalizePrefixes(cfg.PermanentPrefixes)
	if len(c.temporary) == 0 || len(c.permanent) == 0 {
		return nil, fmt.Errorf("at least one temporary and one permanent prefix are required")
	}
	return c, nil
}

func normalizePrefixes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExtractKey returns the storage key a URL-like string points at, or "" if
// it does not point into the bucket. Calling it on its own output is a no-op.
func (c *Codec) ExtractKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if refs := c.Refs(s); len(refs) > 0 {
		return refs[0].Key
	}
	if strings.ContainsAny(s, " \t\r\n") || urlStart(s) >= 0 {
		return ""
	}
	return c.fromPath(s)
}

// Refs returns every URL or managed path inside content, in order. URLs on
// the bucket's own hosts are reported even when the key is unmanaged.
func (c *Codec) Refs(content string) []Ref {
	var refs []Ref
	for _, loc := range tokenPattern.FindAllStringIndex(content, -1) {
		token := content[loc[0]:loc[1]]

		if i := urlStart(token); i >= 0 {
			// Adjacent URLs with no separator share a token.
			for off := loc[0] + i; i >= 0; {
				end := len(token)
				if j := nextScheme(token[i:]); j > 0 {
					end = i + j
				}
				raw := trimTrailing(token[i:end])
				if key := c.fromURL(raw); key != "" {
					refs = append(refs, Ref{Start: off, End: off + len(raw), Key: key})
				}
				if end == len(token) {
					break
				}
				off += end - i
				i = end
			}
			continue
		}

		i := c.managedIndex(token)
		if i < 0 {
			continue
		}
		start := 0
		for j := 0; j < i; j++ {
			if token[j] == '/' {
				break
			}
			if token[j] == '=' || token[j] == ':' {
				start = j + 1
			}
		}
		raw := trimTrailing(token[start:])
		if key := c.fromPath(raw); key != "" && c.IsManaged(key) {
			refs = append(refs, Ref{Start: loc[0] + start, End: loc[0] + start + len(raw), Key: key})
		}
	}
	return refs
}

// ManagedKeys returns the distinct managed keys referenced by content.
func (c *Codec) ManagedKeys(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range c.Refs(content) {
		if c.IsManaged(r.Key) && !seen[r.Key] {
			seen[r.Key] = true
			out = append(out, r.Key)
		}
	}
	return out
}

// RemovedKeys returns managed keys referenced by before but not by after.
func (c *Codec) RemovedKeys(before, after string) []string {
	kept := make(map[string]bool)
	for _, k := range c.ManagedKeys(after) {
		kept[k] = true
	}
	var out []string
	for _, k := range c.ManagedKeys(before) {
		if !kept[k] {
			out = append(out, k)
		}
	}
	return out
}

// Rewrite replaces every reference whose key is in repl with the mapped URL.
func (c *Codec) Rewrite(content string, repl map[string]string) string {
	if len(repl) == 0 {
		return content
	}
	var b strings.Builder
	last := 0
	for _, r := range c.Refs(content) {
		to, ok := repl[r.Key]
		if !ok {
			continue
		}
		b.WriteString(content[last:r.Start])
		b.WriteString(to)
		last = r.End
	}
	if last == 0 {
		return content
	}
	b.WriteString(content[last:])
	return b.String()
}

func (c *Codec) IsManaged(key string) bool {
	return c.IsTemporary(key) || c.IsPermanent(key)
}

func (c *Codec) IsTemporary(key string) bool {
	return hasAnyPrefix(key, c.temporary)
}

func (c *Codec) IsPermanent(key string) bool {
	return hasAnyPrefix(key, c.permanent)
}

func (c *Codec) URL(key string) string {
	return c.baseURL + "/" + strings.TrimLeft(key, "/")
}

// TemporaryKey builds {tmp}/{owner}/{token}/{id}.{ext}.
func (c *Codec) TemporaryKey(owner, token, id, ext string) string {
	return path.Join(c.temporary[0], sanitize(owner), sanitize(token), sanitize(id)+"."+sanitize(ext))
}

// PermanentKey builds {perm}/{YYYY}/{MM}/{entity}-{seq}.{ext}. The same
// inputs always yield the same key, so repeated promotions overwrite.
func (c *Codec) PermanentKey(entity string, seq int, ext string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s-%d.%s", c.permanent[0], t.Year(), int(t.Month()), sanitize(entity), seq, sanitize(ext))
}

// Ext returns the key's extension without the dot.
func Ext(key string) string {
	return strings.TrimPrefix(path.Ext(key), ".")
}

func (c *Codec) fromURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	p := cleanPath(u.Path)
	if !c.hosts[strings.ToLower(u.Hostname())] {
		return c.cutAtManaged(p)
	}
	if k := c.cutAtManaged(p); k != "" {
		return k
	}
	return c.stripBase(p)
}

func (c *Codec) fromPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	p := cleanPath(raw)
	if k := c.cutAtManaged(p); k != "" {
		return k
	}
	return p
}

func (c *Codec) stripBase(p string) string {
	if c.basePath != "" && strings.HasPrefix(p, c.basePath+"/") {
		p = p[len(c.basePath)+1:]
	}
	if c.bucket != "" && strings.HasPrefix(p, c.bucket+"/") {
		p = p[len(c.bucket)+1:]
	}
	return p
}

// cutAtManaged returns p from the first managed prefix that starts a path
// segment, or "" when none does.
func (c *Codec) cutAtManaged(p string) string {
	if i := c.managedIndex(p); i >= 0 {
		return strings.TrimLeft(p[i:], "/")
	}
	return ""
}

func (c *Codec) managedIndex(s string) int {
	best := -1
	for _, prefixes := range [][]string{c.temporary, c.permanent} {
		for _, p := range prefixes {
			needle := p + "/"
			for off := 0; off < len(s); {
				i := strings.Index(s[off:], needle)
				if i < 0 {
					break
				}
				i += off
				if i == 0 || strings.IndexByte("/=:", s[i-1]) >= 0 {
					if best < 0 || i < best {
						best = i
					}
					break
				}
				off = i + 1
			}
		}
	}
	return best
}

func urlStart(s string) int {
	lower := strings.ToLower(s)
	best := -1
	for _, scheme := range []string{"https://", "http://"} {
		if i := strings.Index(lower, scheme); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	if i := strings.Index(s, "//"); i == 0 || (i > 0 && (s[i-1] == '=' || s[i-1] == ':')) {
		return i
	}
	return -1
}

// nextScheme returns the index of the second absolute URL in s, or -1.
func nextScheme(s string) int {
	lower := strings.ToLower(s)
	best := -1
	for _, scheme := range []string{"https://", "http://"} {
		if i := strings.Index(lower[1:], scheme); i >= 0 && (best < 0 || i+1 < best) {
			best = i + 1
		}
	}
	return best
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func trimTrailing(s string) string {
	return strings.TrimRight(s, ".,;!")
}

func hasAnyPrefix(key string, prefixes []string) bool {
	key = strings.TrimLeft(key, "/")
	for _, p := range prefixes {
		if strings.HasPrefix(key, p+"/") {
			return true
		}
	}
	return false
}

func sanitize(seg string) string {
	seg = unsafeSegChars.ReplaceAllString(seg, "_")
	if seg == "" || seg == "." || seg == ".." {
		return "_"
	}
	return seg
}
