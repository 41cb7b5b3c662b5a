package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

var (
	dummyPath       = "dummy.key"
	dummyKeyContent = []byte("dummy content")
)

func testDummyKeyServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, dummyPath, time.Now(), bytes.NewReader(dummyKeyContent))
	}))
}

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "anonsignal-artifacts-test")
	if err != nil {
		panic(err)
	}
	BaseDir = dir
	code := m.Run()
	if err := os.RemoveAll(BaseDir); err != nil {
		panic(err)
	}
	os.Exit(code)
}

func TestLoadKey(t *testing.T) {
	c := qt.New(t)
	// create a dummy key server
	server := testDummyKeyServer()
	defer server.Close()
	// get the expected hash
	hashFn := sha256.New()
	hashFn.Write(dummyKeyContent)
	expectedHash := hashFn.Sum(nil)
	// create a dummy key
	remoteURL, err := url.JoinPath(server.URL, dummyPath)
	c.Assert(err, qt.IsNil)
	dummyKey := &Artifact{
		RemoteURL: remoteURL,
		Hash:      expectedHash,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// test no downloaded file
	c.Assert(dummyKey.Load(ctx), qt.IsNil)
	c.Assert([]byte(dummyKey.Content), qt.DeepEquals, dummyKeyContent)
	// test downloaded file but no locally stored file
	dummyKey.Content = nil
	c.Assert(dummyKey.Load(ctx), qt.IsNil)
	c.Assert([]byte(dummyKey.Content), qt.DeepEquals, dummyKeyContent)
	// test wrong hash
	dummyKey.Content = nil
	dummyKey.Hash = []byte("wrong hash")
	c.Assert(dummyKey.Load(ctx), qt.IsNotNil)
}

func TestStoreAndLoadAll(t *testing.T) {
	c := qt.New(t)

	stored, err := Store([]byte("verifying key"))
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Hash, qt.HasLen, sha256.Size)

	server := testDummyKeyServer()
	defer server.Close()
	remoteHash := sha256.Sum256(dummyKeyContent)
	remote, err := NewArtifact(server.URL+"/"+dummyPath, hex.EncodeToString(remoteHash[:]))
	c.Assert(err, qt.IsNil)

	// only the hash is known for the local one, it is read from the cache
	local := &Artifact{Hash: stored.Hash}
	artifacts := NewCircuitArtifacts(remote, nil, local)
	c.Assert(artifacts.LoadAll(context.Background()), qt.IsNil)
	c.Assert([]byte(artifacts.CircuitDefinition()), qt.DeepEquals, dummyKeyContent)
	c.Assert(artifacts.ProvingKey(), qt.IsNil)
	c.Assert([]byte(artifacts.VerifyingKey()), qt.DeepEquals, []byte("verifying key"))

	missing := NewCircuitArtifacts(&Artifact{Hash: make([]byte, sha256.Size)}, nil, nil)
	c.Assert(missing.LoadAll(context.Background()), qt.IsNotNil)

	_, err = NewArtifact("http://localhost", "zz")
	c.Assert(err, qt.IsNotNil)
	_, err = NewArtifact("http://localhost", "0x1234")
	c.Assert(err, qt.IsNotNil)
}

func TestDownloadRetries(t *testing.T) {
	c := qt.New(t)
	content := []byte("flaky key")
	sum := sha256.Sum256(content)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, dummyPath, time.Now(), bytes.NewReader(content))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	artifact := &Artifact{RemoteURL: server.URL, Hash: sum[:]}
	c.Assert(artifact.Load(ctx), qt.IsNil)
	c.Assert([]byte(artifact.Content), qt.DeepEquals, content)
	c.Assert(calls.Load(), qt.Equals, int32(2))

	// missing remote files are not retried
	calls.Store(0)
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer missing.Close()
	other := sha256.Sum256([]byte("not served"))
	artifact = &Artifact{RemoteURL: missing.URL, Hash: other[:]}
	c.Assert(artifact.Load(ctx), qt.ErrorMatches, ".*http status: 404")
	c.Assert(calls.Load(), qt.Equals, int32(1))
}
