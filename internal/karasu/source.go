package karasu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// RecipeMeta is the dependency-relevant metadata the recipe host reports for
// a package, before its source has been cloned.
type RecipeMeta struct {
	Name         string
	Version      string
	Depends      []string
	MakeDepends  []string
	CheckDepends []string
}

// AllDepends mirrors Recipe.AllDepends for unfetched metadata.
func (m *RecipeMeta) AllDepends() []string {
	r := Recipe{Depends: m.Depends, MakeDepends: m.MakeDepends, CheckDepends: m.CheckDepends}
	return r.AllDepends()
}

// RecipeSource fetches recipe metadata and recipe source trees. The pipeline
// is indifferent to what backs it (the primary recipe host or a mirror).
type RecipeSource interface {
	// Metadata returns the declared metadata for name, or a NotFoundError.
	Metadata(ctx context.Context, name string) (*RecipeMeta, error)
	// FetchSource materializes the recipe source tree for name into destDir.
	FetchSource(ctx context.Context, name, destDir string) error
}

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Increase TLS handshake timeout to handle slow hosts. Default is 10s.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

// aurSource talks to an AUR-compatible RPC endpoint for metadata and clones
// recipe git repositories for source.
type aurSource struct {
	rpcURL    string
	cloneBase string
	client    *http.Client
	exec      *Executor
}

// NewAURSource returns the primary recipe host backend.
func NewAURSource(cfg *Config, exec *Executor) RecipeSource {
	return &aurSource{
		rpcURL:    cfg.RPCURL(),
		cloneBase: cfg.CloneBase(),
		client:    newHTTPClient(),
		exec:      exec,
	}
}

// rpcResponse is the v5 info response envelope.
type rpcResponse struct {
	Type        string `json:"type"`
	ResultCount int    `json:"resultcount"`
	Results     []struct {
		Name         string   `json:"Name"`
		Version      string   `json:"Version"`
		Depends      []string `json:"Depends"`
		MakeDepends  []string `json:"MakeDepends"`
		CheckDepends []string `json:"CheckDepends"`
	} `json:"results"`
	Error string `json:"error"`
}

func (s *aurSource) Metadata(ctx context.Context, name string) (*RecipeMeta, error) {
	infoURL := fmt.Sprintf("%s?v=5&type=info&arg[]=%s", s.rpcURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	req.Header.Set("User-Agent", "karasu/"+version)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Name: name, Err: fmt.Errorf("rpc status %s", resp.Status)}
	}

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, &FetchError{Name: name, Err: fmt.Errorf("decoding rpc response: %w", err)}
	}
	if rpc.Type == "error" {
		return nil, &FetchError{Name: name, Err: fmt.Errorf("rpc error: %s", rpc.Error)}
	}
	for _, res := range rpc.Results {
		if res.Name == name {
			return &RecipeMeta{
				Name:         res.Name,
				Version:      res.Version,
				Depends:      res.Depends,
				MakeDepends:  res.MakeDepends,
				CheckDepends: res.CheckDepends,
			}, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

func (s *aurSource) FetchSource(ctx context.Context, name, destDir string) error {
	cloneURL := fmt.Sprintf("%s/%s.git", s.cloneBase, name)
	if Debug {
		colNote.Println("cloning", cloneURL)
	}
	cmd := exec.Command("git", "clone", "--depth", "1", cloneURL, destDir)
	var errBuf strings.Builder
	cmd.Stdout = &errBuf
	cmd.Stderr = &errBuf
	cmd.Stdin = strings.NewReader("")
	ex := *s.exec
	ex.Context = ctx
	if err := ex.Run(cmd); err != nil {
		return &FetchError{Name: name, Err: fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(errBuf.String()))}
	}
	return nil
}
