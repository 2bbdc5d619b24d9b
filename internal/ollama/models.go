package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ModelInfo describes one installed model, as reported by /api/tags.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return out.Models, nil
}

// ModelExists reports whether an installed model name starts with name.
// Ollama attaches a tag (":latest") to bare names, so prefix matching is the
// reliable membership test.
func (c *Client) ModelExists(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if strings.HasPrefix(m.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

// CreateModel builds a model from modelfile content.
func (c *Client) CreateModel(ctx context.Context, name, modelfile string) error {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	res, err := c.do(ctx, http.MethodPost, "/api/create", map[string]string{
		"name":      name,
		"modelfile": modelfile,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// The create endpoint streams progress lines; drain them so the
	// connection is reusable and errors surfaced late are not lost.
	_, err = io.Copy(io.Discard, res.Body)
	if err != nil {
		return fmt.Errorf("read create progress: %w", err)
	}
	return nil
}

func (c *Client) DeleteModel(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.do(ctx, http.MethodDelete, "/api/delete", map[string]string{"name": name})
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// SetupResult reports what SetupModels did, model by model.
type SetupResult struct {
	Created  []string
	Existing []string
	Failed   []SetupFailure
}

type SetupFailure struct {
	Model string
	Err   error
}

// SetupModels creates one model per *.modelfile in dir, named prefix plus
// the file stem. Existing models are skipped unless force is set. A failure
// on one modelfile is recorded and the walk continues, so a single bad file
// does not block the rest of the catalog.
func (c *Client) SetupModels(ctx context.Context, dir, prefix string, force bool) (SetupResult, error) {
	var result SetupResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		return result, fmt.Errorf("read modelfiles dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".modelfile") {
			continue
		}
		name := prefix + strings.TrimSuffix(entry.Name(), ".modelfile")

		if !force {
			exists, err := c.ModelExists(ctx, name)
			if err != nil {
				return result, fmt.Errorf("check model %s: %w", name, err)
			}
			if exists {
				result.Existing = append(result.Existing, name)
				continue
			}
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			result.Failed = append(result.Failed, SetupFailure{Model: name, Err: err})
			continue
		}
		if err := c.CreateModel(ctx, name, string(content)); err != nil {
			result.Failed = append(result.Failed, SetupFailure{Model: name, Err: err})
			continue
		}
		result.Created = append(result.Created, name)
	}

	return result, nil
}
