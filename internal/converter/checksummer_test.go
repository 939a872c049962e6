package converter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func digestOf(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func repoWith(t *testing.T, fileURL string) json.RawMessage {
	t.Helper()
	repo := map[string]interface{}{
		"id":      "scp",
		"title":   "The SCP Core",
		"version": "3.7.2",
		"notes":   "unmodeled field",
		"packages": []map[string]interface{}{{
			"name": "core",
			"files": []map[string]interface{}{{
				"filename": "scp-core.vp",
				"urls":     []string{fileURL},
			}},
		}},
	}
	data, err := json.Marshal(repo)
	require.NoError(t, err)
	return data
}

func TestGenerateChecksumsHashesAndPreservesFields(t *testing.T) {
	t.Parallel()

	body := []byte("vp archive payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cs := NewChecksummer(srv.Client())
	out, err := cs.GenerateChecksums(context.Background(), repoWith(t, srv.URL+"/scp-core.vp"), Options{})
	require.NoError(t, err)

	var mod struct {
		Notes    string `json:"notes"`
		Packages []struct {
			Files []struct {
				Checksum [2]string `json:"checksum"`
				Filesize int64     `json:"filesize"`
				URLs     []string  `json:"urls"`
			} `json:"files"`
		} `json:"packages"`
	}
	require.NoError(t, json.Unmarshal(out, &mod))

	assert.Equal(t, "unmodeled field", mod.Notes, "fields outside the model must survive")
	require.Len(t, mod.Packages, 1)
	require.Len(t, mod.Packages[0].Files, 1)

	f := mod.Packages[0].Files[0]
	assert.Equal(t, "blake2b-256", f.Checksum[0])
	assert.Equal(t, digestOf(body), f.Checksum[1])
	assert.Equal(t, int64(len(body)), f.Filesize)
	assert.Len(t, f.URLs, 1, "no mirror link without a mirror dir")
}

func TestGenerateChecksumsFallsBackAcrossURLs(t *testing.T) {
	t.Parallel()

	body := []byte("payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	repo := repoWith(t, srv.URL+"/dead")
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(repo, &doc))
	files := doc["packages"].([]interface{})[0].(map[string]interface{})["files"].([]interface{})
	files[0].(map[string]interface{})["urls"] = []string{srv.URL + "/dead", srv.URL + "/live"}
	repo, err := json.Marshal(doc)
	require.NoError(t, err)

	cs := NewChecksummer(srv.Client())
	out, err := cs.GenerateChecksums(context.Background(), repo, Options{})
	require.NoError(t, err)
	assert.Contains(t, string(out), digestOf(body))
}

func TestGenerateChecksumsMirrorsIntoModDirectory(t *testing.T) {
	t.Parallel()

	body := []byte("mirrored bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cs := NewChecksummer(srv.Client())
	out, err := cs.GenerateChecksums(context.Background(), repoWith(t, srv.URL+"/scp-core.vp"), Options{
		MirrorDir:     dir,
		MirrorBaseURL: "https://mirror.example/dl",
	})
	require.NoError(t, err)

	copied, err := os.ReadFile(filepath.Join(dir, "scp", "3.7.2", "scp-core.vp"))
	require.NoError(t, err)
	assert.Equal(t, body, copied)
	assert.Contains(t, string(out), "https://mirror.example/dl/scp/3.7.2/scp-core.vp")
}

func TestGenerateChecksumsSolvesCaptchaChallenge(t *testing.T) {
	t.Parallel()

	body := []byte("guarded payload")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("captcha") != "x7f2" {
			w.Header().Set("X-Captcha-Image", "https://mirror.example/c.png")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	asked := 0
	cs := NewChecksummer(srv.Client())
	out, err := cs.GenerateChecksums(context.Background(), repoWith(t, srv.URL+"/scp-core.vp"), Options{
		Challenge: func(ctx context.Context, imageURL string) (string, error) {
			asked++
			assert.Equal(t, "https://mirror.example/c.png", imageURL)
			return "x7f2", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Contains(t, string(out), digestOf(body))
}

func TestGenerateChecksumsFailsWhenNoURLReachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cs := NewChecksummer(srv.Client())
	_, err := cs.GenerateChecksums(context.Background(), repoWith(t, srv.URL+"/gone"), Options{})
	assert.ErrorIs(t, err, ErrNoReachableURL)
}

func TestGenerateChecksumsRejectsNonObjectInput(t *testing.T) {
	t.Parallel()

	cs := NewChecksummer(nil)
	_, err := cs.GenerateChecksums(context.Background(), json.RawMessage(`[1,2,3]`), Options{})
	assert.Error(t, err)
}
