package converter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrNoReachableURL is returned when none of a file's source URLs could
// be fetched.
var ErrNoReachableURL = errors.New("converter: no reachable source URL")

// repoDoc mirrors the metadata layout accepted on submission: either a
// single mod object or a {"mods": [...]} collection. Unknown fields are
// preserved through Extra.
type repoDoc struct {
	Mods []*modEntry
	// single is true when the input was a bare mod object.
	single bool
}

type modEntry struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Version  string      `json:"version"`
	Packages []*pkgEntry `json:"packages"`

	extra map[string]json.RawMessage
}

type pkgEntry struct {
	Name  string       `json:"name"`
	Files []*fileEntry `json:"files"`

	extra map[string]json.RawMessage
}

type fileEntry struct {
	Filename string    `json:"filename"`
	URLs     []string  `json:"urls"`
	Checksum [2]string `json:"checksum,omitempty"`
	Filesize int64     `json:"filesize,omitempty"`

	extra map[string]json.RawMessage
}

// Checksummer is the default Generator: it fetches every package file,
// streams it through blake2b-256 and optionally keeps a mirror copy.
type Checksummer struct {
	client *http.Client
}

func NewChecksummer(client *http.Client) *Checksummer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Checksummer{client: client}
}

func (c *Checksummer) GenerateChecksums(ctx context.Context, repo json.RawMessage, opts Options) (json.RawMessage, error) {
	doc, err := parseRepo(repo)
	if err != nil {
		return nil, err
	}

	var files []*fileEntry
	for _, mod := range doc.Mods {
		for _, pkg := range mod.Packages {
			files = append(files, pkg.Files...)
		}
	}

	mirrorDir, mirrorURL := mirrorLocation(doc, opts)
	if mirrorDir != "" {
		if err := os.MkdirAll(mirrorDir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create mirror directory: %w", err)
		}
	}

	for i, f := range files {
		if opts.Progress != nil {
			opts.Progress(float64(i)/float64(len(files)), "Hashing "+f.Filename)
		}
		if err := c.processFile(ctx, f, mirrorDir, mirrorURL, opts); err != nil {
			return nil, fmt.Errorf("file %s: %w", f.Filename, err)
		}
	}
	if opts.Progress != nil {
		opts.Progress(1, "Finishing up")
	}

	return doc.marshal()
}

// processFile fetches the first reachable URL, hashes the body and, when
// mirroring, keeps a copy and appends its public link to the URL list.
func (c *Checksummer) processFile(ctx context.Context, f *fileEntry, mirrorDir, mirrorURL string, opts Options) error {
	var lastErr error
	for _, src := range f.URLs {
		digest, size, err := c.fetch(ctx, src, f.Filename, mirrorDir, opts)
		if err != nil {
			lastErr = err
			continue
		}

		f.Checksum = [2]string{"blake2b-256", digest}
		f.Filesize = size
		if mirrorURL != "" {
			f.URLs = append(f.URLs, joinURL(mirrorURL, f.Filename))
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNoReachableURL, lastErr)
	}
	return ErrNoReachableURL
}

// fetch downloads src and streams it through the hash. A 403 carrying a
// challenge header is retried once with the solved captcha code.
func (c *Checksummer) fetch(ctx context.Context, src, filename, mirrorDir string, opts Options) (string, int64, error) {
	resp, err := c.get(ctx, src)
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode == http.StatusForbidden && opts.Challenge != nil {
		img := resp.Header.Get("X-Captcha-Image")
		resp.Body.Close()
		if img == "" {
			return "", 0, fmt.Errorf("fetch %s: status 403", src)
		}

		code, err := opts.Challenge(ctx, img)
		if err != nil {
			return "", 0, fmt.Errorf("captcha challenge for %s: %w", src, err)
		}
		resp, err = c.get(ctx, withQuery(src, "captcha", code))
		if err != nil {
			return "", 0, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, err
	}

	var out io.Writer = hash
	var tmp *os.File
	if mirrorDir != "" {
		tmp, err = os.CreateTemp(mirrorDir, ".download-*")
		if err != nil {
			return "", 0, fmt.Errorf("cannot stage mirror copy: %w", err)
		}
		defer func() {
			tmp.Close()
			os.Remove(tmp.Name())
		}()
		out = io.MultiWriter(hash, tmp)
	}

	size, err := io.Copy(out, resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("fetch %s: %w", src, err)
	}

	if tmp != nil {
		if err := tmp.Close(); err != nil {
			return "", 0, err
		}
		if err := os.Rename(tmp.Name(), filepath.Join(mirrorDir, filepath.Base(filename))); err != nil {
			return "", 0, fmt.Errorf("cannot place mirror copy: %w", err)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), size, nil
}

func (c *Checksummer) get(ctx context.Context, src string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	return resp, nil
}

// mirrorLocation picks the mirror subdirectory: <id>/<version> for a
// single mod, a shared bucket for multi-mod submissions.
func mirrorLocation(doc *repoDoc, opts Options) (dir, url string) {
	if opts.MirrorDir == "" {
		return "", ""
	}

	sub := "general"
	if len(doc.Mods) == 1 && doc.Mods[0].ID != "" && doc.Mods[0].Version != "" {
		sub = filepath.Join(filepath.Base(doc.Mods[0].ID), filepath.Base(doc.Mods[0].Version))
	}

	dir = filepath.Join(opts.MirrorDir, sub)
	if opts.MirrorBaseURL != "" {
		url = joinURL(opts.MirrorBaseURL, filepath.ToSlash(sub))
	}
	return dir, url
}

func parseRepo(repo json.RawMessage) (*repoDoc, error) {
	var probe struct {
		Mods  []json.RawMessage `json:"mods"`
		ID    string            `json:"id"`
		Title string            `json:"title"`
	}
	if err := json.Unmarshal(repo, &probe); err != nil {
		return nil, fmt.Errorf("converter: invalid repo metadata: %w", err)
	}

	doc := &repoDoc{}
	if probe.Mods == nil && probe.ID != "" && probe.Title != "" {
		doc.single = true
		mod, err := parseMod(repo)
		if err != nil {
			return nil, err
		}
		doc.Mods = []*modEntry{mod}
		return doc, nil
	}

	for _, raw := range probe.Mods {
		mod, err := parseMod(raw)
		if err != nil {
			return nil, err
		}
		doc.Mods = append(doc.Mods, mod)
	}
	return doc, nil
}

func parseMod(raw json.RawMessage) (*modEntry, error) {
	var mod modEntry
	if err := json.Unmarshal(raw, &mod); err != nil {
		return nil, fmt.Errorf("converter: invalid mod entry: %w", err)
	}
	if err := json.Unmarshal(raw, &mod.extra); err != nil {
		return nil, fmt.Errorf("converter: invalid mod entry: %w", err)
	}
	if err := fillExtras(mod.extra["packages"], mod.Packages); err != nil {
		return nil, err
	}
	for _, pkg := range mod.Packages {
		if err := fillExtras(pkg.extra["files"], pkg.Files); err != nil {
			return nil, err
		}
	}
	return &mod, nil
}

// hasExtra is implemented by the entry types that preserve fields the
// converter does not model.
type hasExtra interface {
	setExtra(map[string]json.RawMessage)
}

func (p *pkgEntry) setExtra(m map[string]json.RawMessage)  { p.extra = m }
func (f *fileEntry) setExtra(m map[string]json.RawMessage) { f.extra = m }

// fillExtras re-parses a raw JSON array element-wise so each entry keeps
// the original fields alongside the modeled ones.
func fillExtras[T hasExtra](raw json.RawMessage, entries []T) error {
	if raw == nil {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return fmt.Errorf("converter: invalid entry list: %w", err)
	}
	if len(elems) != len(entries) {
		return errors.New("converter: entry list length mismatch")
	}
	for i, elem := range elems {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(elem, &m); err != nil {
			return fmt.Errorf("converter: invalid entry: %w", err)
		}
		entries[i].setExtra(m)
	}
	return nil
}

func (d *repoDoc) marshal() (json.RawMessage, error) {
	mods := make([]json.RawMessage, 0, len(d.Mods))
	for _, mod := range d.Mods {
		merged, err := mod.merge()
		if err != nil {
			return nil, err
		}
		mods = append(mods, merged)
	}

	if d.single {
		return mods[0], nil
	}
	return json.Marshal(map[string]interface{}{"mods": mods})
}

// merge writes the computed data back over the original objects so
// fields the converter does not model survive untouched.
func (m *modEntry) merge() (json.RawMessage, error) {
	pkgs := make([]json.RawMessage, 0, len(m.Packages))
	for _, pkg := range m.Packages {
		files := make([]json.RawMessage, 0, len(pkg.Files))
		for _, f := range pkg.Files {
			merged, err := mergeEntry(f.extra, map[string]interface{}{
				"filename": f.Filename,
				"urls":     f.URLs,
				"checksum": f.Checksum,
				"filesize": f.Filesize,
			})
			if err != nil {
				return nil, err
			}
			files = append(files, merged)
		}

		merged, err := mergeEntry(pkg.extra, map[string]interface{}{"files": files})
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, merged)
	}

	return mergeEntry(m.extra, map[string]interface{}{"packages": pkgs})
}

func mergeEntry(extra map[string]json.RawMessage, computed map[string]interface{}) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage, len(extra)+len(computed))
	for k, v := range extra {
		obj[k] = v
	}
	for k, v := range computed {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[k] = data
	}
	return json.Marshal(obj)
}

// withQuery returns src with one query parameter added.
func withQuery(src, key, value string) string {
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func joinURL(base, rest string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "/" + rest
	}
	u.Path = path.Join(u.Path, rest)
	return u.String()
}
