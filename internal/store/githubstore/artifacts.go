package githubstore

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/google/go-github/v57/github"

	"github.com/fyrsmithlabs/issueforge/internal/store"
)

const maxArtifactBytes = 50 << 20

// FetchJobArtifacts downloads every artifact of a run and flattens the
// archives into file base name to content. A file whose base name repeats
// keeps the last value; the archive name also maps to its single file.
func (s *Store) FetchJobArtifacts(ctx context.Context, runID int64) (map[string]string, error) {
	var list *github.ArtifactList
	_, err := s.do(ctx, "list_artifacts", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		list, resp, err = s.client.Actions.ListWorkflowRunArtifacts(ctx, s.target.Owner, s.target.Repo, runID,
			&github.ListOptions{PerPage: 100})
		return resp, err
	})
	if err != nil {
		return nil, opErr("fetch_artifacts", fmt.Sprintf("run %d", runID), err)
	}
	if list == nil {
		return map[string]string{}, nil
	}

	out := make(map[string]string)
	for _, a := range list.Artifacts {
		if a.GetExpired() {
			continue
		}
		files, err := s.downloadArtifact(ctx, a.GetID())
		if err != nil {
			return nil, opErr("fetch_artifacts", a.GetName(), err)
		}
		for name, content := range files {
			out[name] = content
		}
		if len(files) == 1 {
			for _, content := range files {
				out[a.GetName()] = content
			}
		}
	}
	return out, nil
}

func (s *Store) downloadArtifact(ctx context.Context, id int64) (map[string]string, error) {
	var link string
	_, err := s.do(ctx, "download_artifact", func() (*github.Response, error) {
		u, resp, err := s.client.Actions.DownloadArtifact(ctx, s.target.Owner, s.target.Repo, id, 3)
		if u != nil {
			link = u.String()
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact download: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactBytes {
		return nil, fmt.Errorf("artifact exceeds %d bytes", maxArtifactBytes)
	}
	return unzip(data)
}

func unzip(data []byte) (map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("artifact archive: %w", err)
	}
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArtifactBytes))
		rc.Close()
		if err != nil {
			return nil, err
		}
		out[path.Base(f.Name)] = string(content)
	}
	return out, nil
}

var _ store.JobRunner = (*Store)(nil)
